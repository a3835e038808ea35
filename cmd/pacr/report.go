package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/pacr/pacr/internal/report"
)

var reportFormats = map[string]func(report.Summary) ([]byte, error){
	"text": func(s report.Summary) ([]byte, error) { return []byte(report.RenderText(s)), nil },
	"md":   func(s report.Summary) ([]byte, error) { return []byte(report.RenderMarkdown(s)), nil },
	"json": report.RenderJSON,
}

func newReportCmd() *cobra.Command {
	var (
		inputPath string
		since     time.Duration
		format    string
		outPath   string
	)

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Summarize a lookup decision log",
		RunE: func(cmd *cobra.Command, args []string) error {
			if inputPath == "" {
				return errors.New("decision log path is required (--in)")
			}
			render, ok := reportFormats[format]
			if !ok {
				return fmt.Errorf("unknown format %q, want text|md|json", format)
			}

			reader := report.Reader{}
			if since > 0 {
				reader.Since = time.Now().Add(-since)
			}
			decisions, err := reader.Read(inputPath)
			if err != nil {
				return fmt.Errorf("read decision log: %w", err)
			}

			out, err := render(report.Summarize(decisions))
			if err != nil {
				return err
			}
			if outPath == "" {
				_, err = cmd.OutOrStdout().Write(out)
				return err
			}
			return report.WriteOutput(outPath, out)
		},
	}

	cmd.Flags().StringVar(&inputPath, "in", "", "Path to the JSONL decision log written by pacr run")
	cmd.Flags().DurationVar(&since, "since", 0, "Only include lookups newer than this (e.g. 10m)")
	cmd.Flags().StringVar(&format, "format", "text", "Output format: text|md|json")
	cmd.Flags().StringVar(&outPath, "out", "", "Output file path (default stdout)")

	return cmd
}
