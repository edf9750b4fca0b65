// Package main is the entrypoint for the agreement worker Lambda function.
//
// The worker receives one run request per invocation, computes the
// agreement raster for its geometries or region of interest and exports
// the rasters and tables to the configured targets. Run and unit outcomes
// are published to the run events queue when one is configured.
//
// This file handles dependency wiring (Cold Start) and delegates all work
// to the internal/pipeline package (Pipeline.Run).
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"forestagree/internal/config"
	"forestagree/internal/pipeline"
	"forestagree/internal/report"
	"forestagree/internal/types"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	logger.Info("agreement worker initializing (cold start)")

	ctx := context.Background()

	var secrets config.SecretProvider
	if os.Getenv("APP_ENV") != "local" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			logger.Error("failed to load AWS SDK config", "error", err)
			os.Exit(1)
		}
		secrets = config.NewSSMProvider(ssm.NewFromConfig(awsCfg))
	}

	cfg, err := config.LoadConfig(secrets)
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger = logger.With("service", cfg.Service, "version", cfg.Build.Version)

	// The pool, if any, lives for the life of the execution environment.
	p, _, err := pipeline.FromConfig(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize pipeline", "error", err)
		os.Exit(1)
	}

	lambda.Start(newHandler(p, logger))
}

// Runner runs one pipeline request.
type Runner interface {
	Run(ctx context.Context, req pipeline.Request) (*pipeline.Result, error)
}

// Response is returned to the invoker for every completed run.
type Response struct {
	RunID     string            `json:"run_id"`
	MMUPixels int               `json:"mmu_pixels"`
	Units     report.Counts     `json:"units"`
	Failed    []string          `json:"failed_units,omitempty"`
	Outputs   map[string]string `json:"outputs"`
}

// newHandler creates the Lambda handler. Fatal run errors are returned to
// the runtime so the invocation is marked failed; unit failures are part of
// a successful response.
func newHandler(r Runner, logger *slog.Logger) func(ctx context.Context, req pipeline.Request) (*Response, error) {
	return func(ctx context.Context, req pipeline.Request) (*Response, error) {
		logger.InfoContext(ctx, "run request received",
			"run_id", req.RunID,
			"name", req.Name,
			"kind", req.Kind,
			"mode", req.Mode,
		)

		res, err := r.Run(ctx, req)
		if err != nil {
			logger.ErrorContext(ctx, "run failed",
				"run_id", req.RunID,
				"error_code", types.CodeOf(err),
				"error", err,
			)
			return nil, err
		}

		resp := &Response{
			RunID:     res.RunID,
			MMUPixels: res.MMUPixels,
			Units:     res.Counts(),
			Outputs:   res.Outputs,
		}
		for _, u := range res.Units {
			if u.Status == types.UnitFailed {
				resp.Failed = append(resp.Failed, u.ID)
			}
		}
		logger.InfoContext(ctx, "run completed",
			"run_id", res.RunID,
			"units_ok", resp.Units.OK,
			"units_skipped", resp.Units.Skipped,
			"units_failed", resp.Units.Failed,
		)
		return resp, nil
	}
}
