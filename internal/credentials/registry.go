// Package credentials keeps API-key bookkeeping without ever persisting a
// raw key: the registry file stores names and hash prefixes only, and raw
// keys live in process memory for the session they were supplied in.
package credentials

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// keyHashLen is the stored digest prefix width. Enough to verify a supplied
// key, useless for recovering one.
const keyHashLen = 16

// CredentialError reports a credential lookup or verification failure. It is
// raised before any provider call so jobs never start with a bad reference.
type CredentialError struct {
	Ref    string
	Reason string
}

// Error implements the error interface.
func (e *CredentialError) Error() string {
	return fmt.Sprintf("credential %q: %s", e.Ref, e.Reason)
}

// Record is persisted credential metadata. KeyHash is a SHA-256 hex prefix
// of the raw key, never the key itself.
type Record struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	KeyHash   string    `json:"key_hash"`
	CreatedAt time.Time `json:"created_at"`
}

// Hasher computes hex digests.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// IDGenerator mints record ids.
type IDGenerator interface {
	NewID() (string, error)
}

// Clock abstracts time.Now for tests.
type Clock interface {
	Now() time.Time
}

// Registry maps credential references to raw keys. The metadata file is the
// durable part; raw keys must be re-supplied each session and are verified
// against the stored hash before use.
type Registry struct {
	path   string
	hasher Hasher
	ids    IDGenerator
	clock  Clock

	mu      sync.Mutex
	records []Record
	raw     map[string]string
}

// NewRegistry loads the registry file at path, creating an empty registry
// when the file does not exist yet.
func NewRegistry(path string, hasher Hasher, ids IDGenerator, clock Clock) (*Registry, error) {
	r := &Registry{
		path:   path,
		hasher: hasher,
		ids:    ids,
		clock:  clock,
		raw:    make(map[string]string),
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return r, nil
		}
		return nil, fmt.Errorf("read credential registry: %w", err)
	}
	if err := json.Unmarshal(data, &r.records); err != nil {
		return nil, fmt.Errorf("parse credential registry: %w", err)
	}
	return r, nil
}

// Add registers a new named credential. The raw key is hashed for the
// registry file and cached in memory for this session.
func (r *Registry) Add(name, rawKey string) (Record, error) {
	if name == "" {
		return Record{}, &CredentialError{Ref: name, Reason: "name is required"}
	}
	if rawKey == "" {
		return Record{}, &CredentialError{Ref: name, Reason: "key is required"}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, rec := range r.records {
		if rec.Name == name {
			return Record{}, &CredentialError{Ref: name, Reason: "name already registered"}
		}
	}

	id, err := r.ids.NewID()
	if err != nil {
		return Record{}, fmt.Errorf("generate credential id: %w", err)
	}
	hash, err := r.keyHash(rawKey)
	if err != nil {
		return Record{}, err
	}
	rec := Record{
		ID:        id,
		Name:      name,
		KeyHash:   hash,
		CreatedAt: r.clock.Now(),
	}
	r.records = append(r.records, rec)
	if err := r.save(); err != nil {
		r.records = r.records[:len(r.records)-1]
		return Record{}, err
	}
	r.raw[rec.ID] = rawKey
	return rec, nil
}

// Unlock supplies the raw key for an existing record. The key is verified
// against the stored hash and cached for the session on success.
func (r *Registry) Unlock(ref, rawKey string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.find(ref)
	if !ok {
		return &CredentialError{Ref: ref, Reason: "not registered"}
	}
	hash, err := r.keyHash(rawKey)
	if err != nil {
		return err
	}
	if hash != rec.KeyHash {
		return &CredentialError{Ref: ref, Reason: "key does not match stored hash"}
	}
	r.raw[rec.ID] = rawKey
	return nil
}

// Resolve returns the raw key for a credential reference (id or name).
// Unknown references and records whose key was not supplied this session
// both yield a CredentialError.
func (r *Registry) Resolve(ref string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.find(ref)
	if !ok {
		return "", &CredentialError{Ref: ref, Reason: "not registered"}
	}
	raw, ok := r.raw[rec.ID]
	if !ok {
		return "", &CredentialError{Ref: ref, Reason: "key not supplied this session"}
	}
	return raw, nil
}

// List returns the registered records, metadata only.
func (r *Registry) List() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Record(nil), r.records...)
}

func (r *Registry) find(ref string) (Record, bool) {
	for _, rec := range r.records {
		if rec.ID == ref || rec.Name == ref {
			return rec, true
		}
	}
	return Record{}, false
}

func (r *Registry) keyHash(rawKey string) (string, error) {
	hash, err := r.hasher.Hash([]byte(rawKey))
	if err != nil {
		return "", fmt.Errorf("hash credential key: %w", err)
	}
	if len(hash) > keyHashLen {
		hash = hash[:keyHashLen]
	}
	return hash, nil
}

// save writes the registry atomically: temp file in the same directory, then
// rename over the target.
func (r *Registry) save() error {
	data, err := json.MarshalIndent(r.records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode credential registry: %w", err)
	}
	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create credential dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".credentials-*.json")
	if err != nil {
		return fmt.Errorf("create temp registry file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp registry file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp registry file: %w", err)
	}
	if err := os.Rename(tmpName, r.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace registry file: %w", err)
	}
	return nil
}
