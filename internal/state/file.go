package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/picklr-io/eksstack/internal/ir"
)

// StateVersion is the schema version written to every state document.
const StateVersion = 1

// Manager persists state as a JSON document on the local filesystem.
type Manager struct {
	path string
}

// NewManager creates a local state manager for the file at path.
func NewManager(path string) *Manager {
	return &Manager{path: path}
}

// Path returns the state file location.
func (m *Manager) Path() string {
	return m.path
}

// Read loads state from disk. A missing file yields a fresh state with a new lineage.
func (m *Manager) Read(_ context.Context) (*ir.State, error) {
	content, err := os.ReadFile(m.path)
	if errors.Is(err, fs.ErrNotExist) {
		return NewState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state file %s: %w", m.path, err)
	}
	st, err := Decode(content)
	if err != nil {
		return nil, fmt.Errorf("failed to load state file %s: %w", m.path, err)
	}
	return st, nil
}

// Write replaces the state file atomically: the document is written to a
// temporary file in the same directory and renamed over the old one.
func (m *Manager) Write(_ context.Context, st *ir.State) error {
	content, err := Encode(st)
	if err != nil {
		return err
	}

	dir := filepath.Dir(m.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(m.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp state file: %w", err)
	}
	if err := os.Rename(tmp.Name(), m.path); err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}

// NewState returns an empty state with a fresh lineage.
func NewState() *ir.State {
	return &ir.State{
		Version:   StateVersion,
		Lineage:   uuid.New().String(),
		Resources: []*ir.ResourceState{},
		Outputs:   map[string]any{},
	}
}

// Encode renders st as indented JSON, encrypted when a key is configured.
func Encode(st *ir.State) ([]byte, error) {
	content, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to serialize state: %w", err)
	}
	content = append(content, '\n')
	encrypted, err := EncryptState(content)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt state: %w", err)
	}
	return encrypted, nil
}

// Decode parses a document produced by Encode. Empty content is a fresh state.
func Decode(content []byte) (*ir.State, error) {
	plain, err := DecryptState(content)
	if err != nil {
		return nil, err
	}
	if len(plain) == 0 {
		return NewState(), nil
	}

	var st ir.State
	if err := json.Unmarshal(plain, &st); err != nil {
		return nil, fmt.Errorf("failed to parse state: %w", err)
	}
	if st.Version > StateVersion {
		return nil, fmt.Errorf("state version %d is newer than supported version %d", st.Version, StateVersion)
	}
	if st.Version == 0 {
		st.Version = StateVersion
	}
	if st.Lineage == "" {
		st.Lineage = uuid.New().String()
	}
	if st.Resources == nil {
		st.Resources = []*ir.ResourceState{}
	}
	if st.Outputs == nil {
		st.Outputs = map[string]any{}
	}
	return &st, nil
}
