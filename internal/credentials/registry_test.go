package credentials

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/MikoAlt/scrapqt/internal/hash/sha256"
	"github.com/MikoAlt/scrapqt/internal/id/uuid"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func newTestRegistry(t *testing.T) (*Registry, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "credentials.json")
	r, err := NewRegistry(path, sha256.New(), uuid.NewUUIDGenerator(),
		fixedClock{now: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)})
	require.NoError(t, err)
	return r, path
}

func TestRegistryAddAndResolve(t *testing.T) {
	r, _ := newTestRegistry(t)

	rec, err := r.Add("openai", "sk-raw-key")
	require.NoError(t, err)
	require.NotEmpty(t, rec.ID)
	require.Len(t, rec.KeyHash, 16)
	require.NotContains(t, rec.KeyHash, "sk-raw-key")

	byID, err := r.Resolve(rec.ID)
	require.NoError(t, err)
	require.Equal(t, "sk-raw-key", byID)

	byName, err := r.Resolve("openai")
	require.NoError(t, err)
	require.Equal(t, "sk-raw-key", byName)
}

func TestRegistryUnknownRef(t *testing.T) {
	r, _ := newTestRegistry(t)

	_, err := r.Resolve("ghost")
	var credErr *CredentialError
	require.True(t, errors.As(err, &credErr))
	require.Equal(t, "ghost", credErr.Ref)
}

func TestRegistryFileNeverContainsRawKey(t *testing.T) {
	r, path := newTestRegistry(t)

	_, err := r.Add("prov", "super-secret-key")
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NotContains(t, string(data), "super-secret-key")

	var recs []Record
	require.NoError(t, json.Unmarshal(data, &recs))
	require.Len(t, recs, 1)
	require.Equal(t, "prov", recs[0].Name)
}

func TestRegistryKeysDoNotSurviveRestart(t *testing.T) {
	r, path := newTestRegistry(t)
	rec, err := r.Add("prov", "session-key")
	require.NoError(t, err)

	// A fresh registry sees the metadata but not the key.
	r2, err := NewRegistry(path, sha256.New(), uuid.NewUUIDGenerator(),
		fixedClock{now: time.Now()})
	require.NoError(t, err)
	require.Len(t, r2.List(), 1)

	_, err = r2.Resolve(rec.ID)
	var credErr *CredentialError
	require.True(t, errors.As(err, &credErr))
	require.Contains(t, credErr.Reason, "not supplied")

	// Unlocking with the right key restores it for the new session.
	require.NoError(t, r2.Unlock(rec.ID, "session-key"))
	raw, err := r2.Resolve(rec.ID)
	require.NoError(t, err)
	require.Equal(t, "session-key", raw)
}

func TestRegistryUnlockRejectsWrongKey(t *testing.T) {
	r, _ := newTestRegistry(t)
	rec, err := r.Add("prov", "right-key")
	require.NoError(t, err)

	err = r.Unlock(rec.ID, "wrong-key")
	var credErr *CredentialError
	require.True(t, errors.As(err, &credErr))
	require.Contains(t, credErr.Reason, "does not match")
}

func TestRegistryRejectsDuplicateName(t *testing.T) {
	r, _ := newTestRegistry(t)
	_, err := r.Add("prov", "key-1")
	require.NoError(t, err)

	_, err = r.Add("prov", "key-2")
	var credErr *CredentialError
	require.True(t, errors.As(err, &credErr))
}

func TestRegistryValidatesInput(t *testing.T) {
	r, _ := newTestRegistry(t)

	_, err := r.Add("", "key")
	require.Error(t, err)
	_, err = r.Add("name", "")
	require.Error(t, err)
}
