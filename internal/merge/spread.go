package merge

import (
	"container/heap"
	"sort"

	"github.com/maauso/samplepacker/internal/segment"
)

// capClosest keeps the n highest-scoring segments. Ties prefer the earlier
// start, then the higher detector priority. The result is ordered by start.
func capClosest(segs []segment.Segment, n int) []segment.Segment {
	ranked := make([]int, len(segs))
	for i := range ranked {
		ranked[i] = i
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := segs[ranked[i]], segs[ranked[j]]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		return segment.Priority(a.PrimaryDetector()) > segment.Priority(b.PrimaryDetector())
	})

	keep := ranked[:n]
	sort.Ints(keep)
	out := make([]segment.Segment, 0, n)
	for _, i := range keep {
		out = append(out, segs[i])
	}
	return out
}

// capStrict thins the set towards even spacing. It repeatedly takes the
// adjacent pair whose midpoints are closest and drops its weaker member
// (lower score; on a tie, the later one) until n segments remain.
func capStrict(segs []segment.Segment, n int) []segment.Segment {
	count := len(segs)
	if count <= n {
		return segs
	}
	prev := make([]int, count)
	next := make([]int, count)
	alive := make([]bool, count)
	mids := make([]float64, count)
	for i := range segs {
		prev[i], next[i], alive[i] = i-1, i+1, true
		mids[i] = (segs[i].Start + segs[i].End) / 2
	}
	next[count-1] = -1

	h := &pairHeap{}
	push := func(l, r int) {
		if l < 0 || r < 0 {
			return
		}
		heap.Push(h, pair{left: l, right: r, dist: mids[r] - mids[l]})
	}
	for i := 0; i+1 < count; i++ {
		push(i, i+1)
	}

	for count > n && h.Len() > 0 {
		p := heap.Pop(h).(pair)
		if !alive[p.left] || !alive[p.right] || next[p.left] != p.right {
			continue
		}
		drop := p.right
		if segs[p.left].Score < segs[p.right].Score {
			drop = p.left
		}
		alive[drop] = false
		count--

		l, r := prev[drop], next[drop]
		if l >= 0 {
			next[l] = r
		}
		if r >= 0 {
			prev[r] = l
		}
		push(l, r)
	}

	out := make([]segment.Segment, 0, n)
	for i, seg := range segs {
		if alive[i] {
			out = append(out, seg)
		}
	}
	return out
}

type pair struct {
	left, right int
	dist        float64
}

// pairHeap is a min-heap of adjacent pairs by midpoint distance, earliest
// pair first on ties. Stale pairs are skipped when popped.
type pairHeap []pair

func (h pairHeap) Len() int { return len(h) }

func (h pairHeap) Less(i, j int) bool {
	if h[i].dist != h[j].dist {
		return h[i].dist < h[j].dist
	}
	return h[i].left < h[j].left
}

func (h pairHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *pairHeap) Push(x any) { *h = append(*h, x.(pair)) }

func (h *pairHeap) Pop() any {
	old := *h
	p := old[len(old)-1]
	*h = old[:len(old)-1]
	return p
}
