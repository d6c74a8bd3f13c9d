package export

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/maauso/samplepacker/internal/segment"
)

func markerLabel(i int, seg segment.Segment) string {
	return fmt.Sprintf("sample_%03d %s", i, seg.Detector)
}

func seconds(v float64, prec int) string {
	return strconv.FormatFloat(v, 'f', prec, 64)
}

// WriteAudacityLabels writes one tab-separated "start\tend\tlabel" line per
// segment, the label track format Audacity imports.
func WriteAudacityLabels(w io.Writer, segs []segment.Segment) error {
	bw := bufio.NewWriter(w)
	for i, seg := range segs {
		if _, err := fmt.Fprintf(bw, "%.6f\t%.6f\t%s\n", seg.Start, seg.End, markerLabel(i, seg)); err != nil {
			return fmt.Errorf("write audacity labels: %w", err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("write audacity labels: %w", err)
	}
	return nil
}

// WriteReaperRegions writes a region list in the CSV layout of REAPER's
// region/marker manager: #,Name,Start,End,Length with region IDs R1, R2...
func WriteReaperRegions(w io.Writer, segs []segment.Segment) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"#", "Name", "Start", "End", "Length"}); err != nil {
		return fmt.Errorf("write reaper regions: %w", err)
	}
	for i, seg := range segs {
		row := []string{
			"R" + strconv.Itoa(i+1),
			markerLabel(i, seg),
			seconds(seg.Start, 6),
			seconds(seg.End, 6),
			seconds(seg.End-seg.Start, 6),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write reaper regions: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("write reaper regions: %w", err)
	}
	return nil
}

// WriteTimestamps writes id,start_sec,end_sec,duration_sec,detector,score
// rows with millisecond precision.
func WriteTimestamps(w io.Writer, segs []segment.Segment) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"id", "start_sec", "end_sec", "duration_sec", "detector", "score"}); err != nil {
		return fmt.Errorf("write timestamps: %w", err)
	}
	for i, seg := range segs {
		row := []string{
			strconv.Itoa(i),
			seconds(seg.Start, 3),
			seconds(seg.End, 3),
			seconds(seg.End-seg.Start, 3),
			seg.Detector,
			seconds(seg.Score, 3),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write timestamps: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("write timestamps: %w", err)
	}
	return nil
}
