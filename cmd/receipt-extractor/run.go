package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/peterbourgon/ff/v4"
)

func newRunCommand(parent *ff.FlagSet, pipeline *pipelineFlags) *ff.Command {
	fs := ff.NewFlagSet("run").SetParent(parent)
	input := fs.StringLong("input", "receipts", "Directory of receipt images to process")

	return &ff.Command{
		Name:      "run",
		Usage:     "receipt-extractor run [FLAGS]",
		ShortHelp: "process a directory of receipt images once",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			p, err := pipeline.build(nil)
			if err != nil {
				return err
			}
			defer p.Close()

			slog.Info("Processing receipts", "input", *input, "output", *pipeline.output)
			result, err := p.runner.Run(ctx, *input)
			if result != nil {
				for _, skipped := range result.Skipped {
					slog.Warn("Skipped file", "file", skipped.File, "reason", skipped.Reason)
				}
				fmt.Println(result.Summary())
			}
			if err != nil {
				return fmt.Errorf("running batch: %w", err)
			}
			return nil
		},
	}
}
