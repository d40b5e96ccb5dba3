package cli

import (
	"context"
	"fmt"

	"github.com/picklr-io/eksstack/internal/config"
	"github.com/picklr-io/eksstack/internal/engine"
	"github.com/picklr-io/eksstack/internal/ir"
	"github.com/picklr-io/eksstack/internal/logging"
	"github.com/picklr-io/eksstack/internal/metrics"
	"github.com/picklr-io/eksstack/internal/provider"
	"github.com/picklr-io/eksstack/internal/stack"
	"github.com/picklr-io/eksstack/internal/state"
	"github.com/picklr-io/eksstack/providers/aws"
	"github.com/picklr-io/eksstack/providers/helm"
	"github.com/picklr-io/eksstack/providers/kubernetes"
	"github.com/picklr-io/eksstack/providers/null"
)

func loadSettings(ctx context.Context) (*config.Settings, error) {
	return config.Load(ctx, config.Options{
		File:      cfgFile,
		EnvFile:   envFile,
		Overrides: setOverrides,
	})
}

// loadConfig loads the settings and declares the stack they describe.
func loadConfig(ctx context.Context) (*config.Settings, *ir.Config, error) {
	settings, err := loadSettings(ctx)
	if err != nil {
		return nil, nil, err
	}
	st, err := stack.Build(settings)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to declare stack: %w", err)
	}
	return settings, st.Config(), nil
}

// newRegistry registers the AWS, Kubernetes and Helm providers. Kubernetes and
// Helm authenticate with tokens presigned by the AWS provider.
func newRegistry(ctx context.Context, settings *config.Settings) (*provider.Registry, error) {
	registry := provider.NewRegistry()
	if dryProvider {
		logging.Warn("using the in-memory provider, nothing is created in AWS")
		if err := registry.LoadProvider(null.New(ir.Kinds()...)); err != nil {
			return nil, err
		}
		return registry, nil
	}

	awsProvider, err := aws.New(ctx, aws.Options{Region: settings.AWSRegion, Profile: awsProfile})
	if err != nil {
		return nil, err
	}
	for _, p := range []provider.Provider{
		awsProvider,
		kubernetes.New(awsProvider),
		helm.New(awsProvider),
	} {
		if err := registry.LoadProvider(p); err != nil {
			return nil, fmt.Errorf("failed to load provider %s: %w", p.Name(), err)
		}
	}
	return registry, nil
}

func newEngine(ctx context.Context, settings *config.Settings) (*engine.Engine, error) {
	registry, err := newRegistry(ctx, settings)
	if err != nil {
		return nil, err
	}
	eng := engine.NewEngine(registry)
	if parallelism > 0 {
		eng.Parallelism = parallelism
	}
	// The in-memory provider forgets its objects between runs.
	eng.Refresh = !dryProvider
	return eng, nil
}

func openBackend(ctx context.Context) (state.Backend, error) {
	cfg, err := state.ParseBackendConfig(backendConfig)
	if err != nil {
		return nil, err
	}
	return state.NewBackend(ctx, &state.BackendConfig{
		Type:   backendType,
		Path:   statePath,
		Config: cfg,
	})
}

// withLock runs fn on the observed state while holding the backend lock.
func withLock(ctx context.Context, fn func(*state.Store) error) error {
	backend, err := openBackend(ctx)
	if err != nil {
		return err
	}
	if err := backend.Lock(ctx); err != nil {
		return err
	}
	defer func() {
		if err := backend.Unlock(context.WithoutCancel(ctx)); err != nil {
			logging.Error("failed to release state lock", "error", err)
		}
	}()

	store, err := state.Open(ctx, backend)
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}
	return fn(store)
}

func writeMetrics() {
	if metricsFile == "" {
		return
	}
	if err := metrics.WriteTextfile(metricsFile); err != nil {
		logging.Warn("metrics not written", "error", err)
	}
}
