package config

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// ConfigError is returned by LoadConfig with a category for diagnostics.
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

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// ssmParamSuffix marks variables whose value is an SSM path for the variable
// named without the suffix, e.g. STRIPE_SECRET_KEY_SSM_PARAM.
const ssmParamSuffix = "_SSM_PARAM"

const localEnv = "local"

// loaderDeps isolates process environment access for tests.
type loaderDeps struct {
	lookupEnv func(key string) (string, bool)
	setEnv    func(key, value string) error
	environ   func() []string
}

func defaultDeps() loaderDeps {
	return loaderDeps{
		lookupEnv: os.LookupEnv,
		setEnv:    os.Setenv,
		environ:   os.Environ,
	}
}

// LoadConfig loads, resolves, and validates the configuration:
//  1. forces the process timezone to UTC;
//  2. loads .env if present;
//  3. outside APP_ENV=local, resolves *_SSM_PARAM pointers through provider;
//  4. processes envconfig tags;
//  5. validates with go-playground/validator.
//
// provider may be nil when no SSM pointers are set.
func LoadConfig(provider SecretProvider) (*Config, error) {
	return loadConfigWithDeps(provider, defaultDeps())
}

func loadConfigWithDeps(provider SecretProvider, deps loaderDeps) (*Config, error) {
	var cfg Config
	if err := loadInto(provider, deps, &cfg); err != nil {
		return nil, err
	}
	cfg.Build = NewBuildInfo()

	if cfg.RateLimit.Backend == "redis" && cfg.RateLimit.RedisURL.IsEmpty() {
		return nil, &ConfigError{
			Type:    ErrValidation,
			Message: "REDIS_URL is required when RATE_LIMIT_BACKEND=redis",
		}
	}
	if err := cfg.Retention.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// LoadJobConfig runs the same chain as LoadConfig for the subset used by
// scheduled jobs, so a job does not need the API's credentials.
func LoadJobConfig(provider SecretProvider) (*JobConfig, error) {
	return loadJobConfigWithDeps(provider, defaultDeps())
}

func loadJobConfigWithDeps(provider SecretProvider, deps loaderDeps) (*JobConfig, error) {
	var cfg JobConfig
	if err := loadInto(provider, deps, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Retention.Validate(); err != nil {
		return nil, err
	}
	cfg.Build = NewBuildInfo()
	return &cfg, nil
}

func loadInto(provider SecretProvider, deps loaderDeps, cfg any) error {
	time.Local = time.UTC

	// Missing .env is normal outside local development.
	_ = godotenv.Load()

	if appEnv, _ := deps.lookupEnv("APP_ENV"); appEnv != localEnv {
		if err := resolveSSMParams(provider, deps); err != nil {
			return err
		}
	}

	if err := envconfig.Process("", cfg); err != nil {
		return &ConfigError{
			Type:    ErrParsing,
			Message: "failed to process environment configuration",
			Err:     err,
		}
	}

	if err := validator.New().Struct(cfg); err != nil {
		return &ConfigError{
			Type:    ErrValidation,
			Message: "configuration validation failed",
			Err:     err,
		}
	}
	return nil
}

// ResolveSecrets runs only the SSM step. Entry points that read a handful of
// variables directly call it before os.Getenv.
func ResolveSecrets(provider SecretProvider) error {
	if appEnv, _ := os.LookupEnv("APP_ENV"); appEnv == localEnv {
		return nil
	}
	return resolveSSMParams(provider, defaultDeps())
}

// resolveSSMParams fetches every *_SSM_PARAM pointer whose target variable is
// not already set and writes the plaintext into the target variable.
func resolveSSMParams(provider SecretProvider, deps loaderDeps) error {
	pathToTarget := make(map[string]string)

	for _, entry := range deps.environ() {
		key, value, ok := strings.Cut(entry, "=")
		if !ok || !strings.HasSuffix(key, ssmParamSuffix) || value == "" {
			continue
		}
		target := strings.TrimSuffix(key, ssmParamSuffix)
		if _, exists := deps.lookupEnv(target); exists {
			continue
		}
		pathToTarget[value] = target
	}

	if len(pathToTarget) == 0 {
		return nil
	}

	paths := make([]string, 0, len(pathToTarget))
	for p := range pathToTarget {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	if provider == nil {
		targets := make([]string, 0, len(paths))
		for _, p := range paths {
			targets = append(targets, pathToTarget[p])
		}
		return &ConfigError{
			Type:    ErrSSMResolution,
			Message: fmt.Sprintf("a SecretProvider is required to resolve: %s", strings.Join(targets, ", ")),
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
	for _, p := range paths {
		target := pathToTarget[p]
		value, ok := resolved[p]
		if !ok {
			missing = append(missing, target)
			continue
		}
		if err := deps.setEnv(target, value); err != nil {
			return &ConfigError{
				Type:    ErrSSMResolution,
				Message: fmt.Sprintf("failed to set resolved value for %s", target),
				Err:     err,
			}
		}
	}
	if len(missing) > 0 {
		return &ConfigError{
			Type:    ErrSSMResolution,
			Message: fmt.Sprintf("SSM parameters not found for: %s", strings.Join(missing, ", ")),
		}
	}

	return nil
}
