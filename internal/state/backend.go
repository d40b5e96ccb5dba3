package state

import (
	"context"
	"fmt"
	"strings"

	"github.com/picklr-io/eksstack/internal/ir"
)

// Backend defines the interface for state storage backends.
type Backend interface {
	// Read loads the state from the backend.
	Read(ctx context.Context) (*ir.State, error)

	// Write saves the whole state document in one atomic operation.
	Write(ctx context.Context, state *ir.State) error

	// Lock acquires an exclusive lock on the state.
	Lock(ctx context.Context) error

	// Unlock releases the lock on the state.
	Unlock(ctx context.Context) error
}

// BackendConfig selects and configures a state backend.
type BackendConfig struct {
	Type   string            // "local" or "s3"
	Path   string            // local state file
	Config map[string]string // backend specific settings from --backend-config
}

// NewBackend creates a state backend from configuration.
func NewBackend(ctx context.Context, cfg *BackendConfig) (Backend, error) {
	if cfg == nil {
		return nil, fmt.Errorf("backend configuration is nil")
	}

	switch cfg.Type {
	case "local", "":
		path := cfg.Path
		if p := cfg.Config["path"]; p != "" {
			path = p
		}
		if path == "" {
			return nil, fmt.Errorf("local backend requires a state path")
		}
		return NewManager(path), nil
	case "s3":
		return newS3Backend(ctx, cfg.Config)
	default:
		return nil, fmt.Errorf("unknown backend type: %s", cfg.Type)
	}
}

// ParseBackendConfig turns repeated key=value flags into a map.
func ParseBackendConfig(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid backend config %q: expected key=value", pair)
		}
		out[key] = strings.TrimSpace(value)
	}
	return out, nil
}
