package orchestrator

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Identity is the durable record of a launched service. One JSON file per
// service under the run directory; its presence plus a live PID means the
// service is considered running.
type Identity struct {
	Service   string    `json:"service"`
	PID       int       `json:"pid"`
	Addr      string    `json:"addr"`
	StartedAt time.Time `json:"started_at"`
}

func (m *Manager) identityPath(service string) string {
	return filepath.Join(m.cfg.RunDir, service+".json")
}

// readIdentity loads the record for a service. os.ErrNotExist passes through
// so callers can distinguish "never started" from a corrupt file.
func (m *Manager) readIdentity(service string) (Identity, error) {
	data, err := os.ReadFile(m.identityPath(service))
	if err != nil {
		return Identity{}, err
	}
	var id Identity
	if err := json.Unmarshal(data, &id); err != nil {
		return Identity{}, fmt.Errorf("parse identity for %s: %w", service, err)
	}
	return id, nil
}

func (m *Manager) writeIdentity(id Identity) error {
	if err := os.MkdirAll(m.cfg.RunDir, 0o755); err != nil {
		return fmt.Errorf("create run dir: %w", err)
	}
	data, err := json.MarshalIndent(id, "", "  ")
	if err != nil {
		return fmt.Errorf("encode identity for %s: %w", id.Service, err)
	}
	if err := os.WriteFile(m.identityPath(id.Service), data, 0o644); err != nil {
		return fmt.Errorf("write identity for %s: %w", id.Service, err)
	}
	return nil
}

func (m *Manager) removeIdentity(service string) error {
	err := os.Remove(m.identityPath(service))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove identity for %s: %w", service, err)
	}
	return nil
}
