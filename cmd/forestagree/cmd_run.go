package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"forestagree/internal/pipeline"
	"forestagree/internal/report"
)

// runSummary is printed to stdout once a run completes.
type runSummary struct {
	RunID     string            `json:"run_id"`
	MMUPixels int               `json:"mmu_pixels"`
	Units     report.Counts     `json:"units"`
	Outputs   map[string]string `json:"outputs"`
}

func runPipeline(cmd *cobra.Command, _ []string) error {
	req, err := buildRequest()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	level := cfg.LogLevel
	if logLevel != "" {
		level = logLevel
	}
	logger := newLogger(level).With("service", cfg.Service, "version", cfg.Build.Version)

	p, cleanup, err := pipeline.FromConfig(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	res, err := p.Run(ctx, req)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(runSummary{
		RunID:     res.RunID,
		MMUPixels: res.MMUPixels,
		Units:     res.Counts(),
		Outputs:   res.Outputs,
	})
}

// buildRequest reads the manifest, if any, and applies the flags set on the
// command line over it.
func buildRequest() (pipeline.Request, error) {
	var req pipeline.Request
	if manifestPath != "" {
		m, err := readManifest(manifestPath)
		if err != nil {
			return req, err
		}
		req = m
	}

	override := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	override(&req.Name, runName)
	override(&req.GeometriesPath, geometriesPath)
	override(&req.Kind, geometryKind)
	override(&req.ROIPath, roiPath)
	override(&req.Mode, exportMode)
	override(&req.ExportTarget, exportTarget)
	override(&req.TableTarget, tableTarget)
	override(&req.TableFormat, tableFormat)
	if bufferRadiusM > 0 {
		req.BufferRadiusM = bufferRadiusM
	}
	return req, nil
}

func readManifest(path string) (pipeline.Request, error) {
	var req pipeline.Request
	data, err := os.ReadFile(path)
	if err != nil {
		return req, fmt.Errorf("reading manifest: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&req); err != nil {
		return req, fmt.Errorf("parsing manifest %s: %w", path, err)
	}
	return req, nil
}
