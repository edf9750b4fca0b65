package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"forestagree/internal/region"
)

// ConfigError is a diagnostic error type returned by LoadConfig to aid debugging.
// It wraps a ConfigErrorType and an underlying error message.
type ConfigError struct {
	Type    ConfigErrorType
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// ssmParamSuffix marks pointer variables: DATABASE_URL_SSM_PARAM holds the
// SSM path of DATABASE_URL.
const ssmParamSuffix = "_SSM_PARAM"

// localEnv skips SSM resolution.
const localEnv = "local"

// loaderDeps abstracts the process environment so resolution can be tested
// without touching it.
type loaderDeps struct {
	lookupEnv func(key string) (string, bool)
	setEnv    func(key, value string) error
	environ   func() []string
}

func defaultDeps() loaderDeps {
	return loaderDeps{lookupEnv: os.LookupEnv, setEnv: os.Setenv, environ: os.Environ}
}

// LoadConfig reads, resolves and validates the configuration. provider may
// be nil when APP_ENV is local or no _SSM_PARAM variable is set.
//
// Precedence is OS environment, then .env, then SSM: a pointer variable is
// only resolved when its target is unset.
func LoadConfig(provider SecretProvider) (*Config, error) {
	return loadConfigWithDeps(provider, defaultDeps())
}

func loadConfigWithDeps(provider SecretProvider, deps loaderDeps) (*Config, error) {
	time.Local = time.UTC

	// A missing .env is fine; existing variables are never overridden.
	_ = godotenv.Load()

	if appEnv, _ := deps.lookupEnv("APP_ENV"); appEnv != localEnv {
		if err := resolveSSMParams(provider, deps); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, &ConfigError{Type: ErrParsing, Message: "failed to process environment configuration", Err: err}
	}
	cfg.Build = NewBuildInfo()

	if err := validator.New().Struct(cfg); err != nil {
		return nil, &ConfigError{Type: ErrValidation, Message: "configuration validation failed", Err: err}
	}
	if err := cfg.check(); err != nil {
		return nil, &ConfigError{Type: ErrValidation, Message: "configuration validation failed", Err: err}
	}
	return &cfg, nil
}

// catalogScheme prefixes targets that store into the catalog database.
const catalogScheme = "catalog:"

// check enforces the rules validator tags cannot express. Paths that are
// set must not be unedited placeholders; a catalog export target needs an
// asset bucket and any catalog target needs a database.
func (c *Config) check() error {
	paths := []struct{ name, value string }{
		{"DATASET_SOURCE", c.Source.DatasetSource},
		{"EXPORT_TARGET", c.Export.Target},
		{"TABLE_TARGET", c.Export.TableTarget},
	}
	for _, p := range paths {
		if p.value == "" {
			continue
		}
		if err := region.CheckPath(p.name, p.value); err != nil {
			return err
		}
	}

	exportCatalog := strings.HasPrefix(c.Export.Target, catalogScheme)
	tableCatalog := strings.HasPrefix(c.Export.TableTarget, catalogScheme)
	if exportCatalog && c.Export.AssetBucket == "" {
		return fmt.Errorf("EXPORT_TARGET %q requires ASSET_BUCKET", c.Export.Target)
	}
	if (exportCatalog || tableCatalog) && c.Database.URL == "" {
		return errors.New("catalog targets require DATABASE_URL")
	}
	return nil
}

// ResolveSecrets injects SSM-resolved values into the process environment
// without loading the configuration, for code that reads variables before
// LoadConfig runs. It is a no-op for APP_ENV=local.
func ResolveSecrets(provider SecretProvider) error {
	if appEnv, _ := os.LookupEnv("APP_ENV"); appEnv == localEnv {
		return nil
	}
	return resolveSSMParams(provider, defaultDeps())
}

// resolveSSMParams fetches the target of every _SSM_PARAM variable whose
// target is unset, in one batch, and sets it in the environment.
func resolveSSMParams(provider SecretProvider, deps loaderDeps) error {
	targets := make(map[string]string) // SSM path -> variable
	var paths, names []string
	for _, entry := range deps.environ() {
		key, path, ok := strings.Cut(entry, "=")
		if !ok || !strings.HasSuffix(key, ssmParamSuffix) || path == "" {
			continue
		}
		name := strings.TrimSuffix(key, ssmParamSuffix)
		if _, set := deps.lookupEnv(name); set {
			continue
		}
		if _, dup := targets[path]; !dup {
			paths = append(paths, path)
		}
		targets[path] = name
		names = append(names, name)
	}
	if len(paths) == 0 {
		return nil
	}
	if provider == nil {
		return &ConfigError{
			Type:    ErrSSMResolution,
			Message: "a SecretProvider is required to resolve " + strings.Join(names, ", "),
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	resolved, err := provider.GetParametersBatch(ctx, paths)
	if err != nil {
		return &ConfigError{
			Type:    ErrSSMResolution,
			Message: fmt.Sprintf("failed to resolve %d SSM parameters", len(paths)),
			Err:     err,
		}
	}

	var missing []string
	for _, path := range paths {
		value, ok := resolved[path]
		if !ok {
			missing = append(missing, targets[path])
			continue
		}
		if err := deps.setEnv(targets[path], value); err != nil {
			return &ConfigError{Type: ErrSSMResolution, Message: "failed to set " + targets[path], Err: err}
		}
	}
	if len(missing) > 0 {
		return &ConfigError{
			Type:    ErrSSMResolution,
			Message: "SSM parameters not found for: " + strings.Join(missing, ", "),
		}
	}
	return nil
}
