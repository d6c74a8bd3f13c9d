package main

import (
	"fmt"
	"log/slog"

	"github.com/maauso/samplepacker/internal/cli"
	"github.com/maauso/samplepacker/internal/export"
	"github.com/maauso/samplepacker/internal/overlap"
	"github.com/maauso/samplepacker/internal/segment"
)

// Maintenance operations.
const (
	opRemoveOverlaps   = "remove-overlaps"
	opRemoveDuplicates = "remove-duplicates"
	opMergeOverlaps    = "merge-overlaps"
)

// OverlapsCmd rewrites the segments of a committed output.
type OverlapsCmd struct {
	Document string `arg:"" type:"existingfile" help:"The data/summary.json of an output."`
	Op       string `required:"" enum:"remove-overlaps,remove-duplicates,merge-overlaps" help:"Operation to apply."`
	DryRun   bool   `short:"n" help:"Print the result without writing it."`
}

// Run applies the operation and rewrites the output's markers and document.
func (c *OverlapsCmd) Run(app *App) error {
	doc, err := export.ReadDocument(c.Document)
	if err != nil {
		return err
	}

	before := len(doc.Segments)
	after, err := applyOp(c.Op, doc.Segments)
	if err != nil {
		return err
	}
	doc.Segments = after

	if c.DryRun {
		cli.PrintSegments(app.stdout, after)
		fmt.Fprintf(app.stdout, "%d -> %d segments (dry run)\n", before, len(after))
		return nil
	}
	if err := export.Rewrite(export.DirOf(c.Document), doc); err != nil {
		return err
	}
	app.logger.Info("segments rewritten",
		slog.String("document", c.Document),
		slog.String("op", c.Op),
		slog.Int("before", before),
		slog.Int("after", len(after)),
	)
	fmt.Fprintf(app.stdout, "%d -> %d segments\n", before, len(after))
	return nil
}

func applyOp(op string, segs []segment.Segment) ([]segment.Segment, error) {
	switch op {
	case opRemoveOverlaps:
		return overlap.RemoveAllOverlaps(segs), nil
	case opRemoveDuplicates:
		return overlap.RemoveAllDuplicates(segs), nil
	case opMergeOverlaps:
		return overlap.MergeAllOverlaps(segs), nil
	default:
		return nil, fmt.Errorf("unknown operation %q", op)
	}
}
