// Package main is the forestagree command line tool. It runs the agreement
// pipeline for a geometry file or region of interest and inspects the
// dataset catalog and catalog database.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"forestagree/internal/config"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newLogger creates a JSON logger writing to stderr so command output on
// stdout stays machine readable.
func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}

// loadConfig loads the process configuration. SSM is only consulted outside
// local environments.
func loadConfig(ctx context.Context) (*config.Config, error) {
	var provider config.SecretProvider
	if os.Getenv("APP_ENV") != "local" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS SDK config: %w", err)
		}
		provider = config.NewSSMProvider(ssm.NewFromConfig(awsCfg))
	}
	return config.LoadConfig(provider)
}
