package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// RunBytes is the in-memory counterpart to Run for callers with no durable
// filesystem of their own, chiefly the js/wasm build (cmd/fit_wasm). It
// stages the input bytes to a scratch directory, drives the same Run
// pipeline, and reads every generated artifact back into memory.
func RunBytes(opts BytesOptions) (*BytesResult, error) {
	if len(opts.FitData) == 0 {
		return nil, fmt.Errorf("fit data is required")
	}

	sourceName := strings.TrimSpace(opts.SourceFileName)
	if sourceName == "" {
		sourceName = "input.fit"
	}

	scratch, err := os.MkdirTemp("", "fitdecode-runbytes-*")
	if err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	fitPath := filepath.Join(scratch, filepath.Base(sourceName))
	if err := os.WriteFile(fitPath, opts.FitData, 0o644); err != nil {
		return nil, fmt.Errorf("stage fit bytes: %w", err)
	}

	outDir := filepath.Join(scratch, "out")
	result, err := Run(Options{
		FitPath:     fitPath,
		OutDir:      outDir,
		FTPOverride: opts.FTPOverride,
		WeightKG:    opts.WeightKG,
		Format:      opts.Format,
		Overwrite:   true,
		CopySource:  opts.CopySource,
	})
	if err != nil {
		return nil, err
	}

	files := make(map[string][]byte, 8)
	named := map[string]string{
		"manifest.json":          result.ManifestPath,
		"records.jsonl":          result.RecordsPath,
		"messages_index.json":    result.MessagesIndexPath,
		"workout_structure.json": result.WorkoutStructurePath,
		"activity_summary.json":  result.ActivitySummaryPath,
		"training_summary.md":    result.TrainingSummaryPath,
	}
	named["canonical_samples."+formatExtension(strings.ToLower(strings.TrimSpace(opts.Format)))] = result.CanonicalSamplesPath
	if result.LapSummaryPath != "" {
		named["lap_summary.json"] = result.LapSummaryPath
	}
	if result.SourceCopyPath != "" {
		named["source.fit"] = result.SourceCopyPath
	}

	for name, path := range named {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read generated artifact %s: %w", name, err)
		}
		files[name] = data
	}
	return &BytesResult{
		Files:    files,
		Warnings: result.Warnings,
	}, nil
}
