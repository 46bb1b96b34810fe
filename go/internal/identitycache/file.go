// Package identitycache remembers which name the local user joined each session with.
package identitycache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/planningpoker/go/internal/estimation"
)

// fileState is the on-disk layout: the last name typed plus one entry per session.
type fileState struct {
	LastUsedName string                                  `json:"lastUsedName"`
	Sessions     map[uuid.UUID]estimation.CachedIdentity `json:"sessions"`
}

// FileCache keeps identities in a JSON file.
type FileCache struct {
	path  string
	clock clockwork.Clock
	mu    sync.Mutex
}

var _ estimation.IdentityCache = (*FileCache)(nil)

// NewFileCache creates a cache at path. The file is created on the first write.
func NewFileCache(path string, clock clockwork.Clock) *FileCache {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &FileCache{path: path, clock: clock}
}

// DefaultPath returns the cache file under the user's config directory.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locate config dir: %w", err)
	}
	return filepath.Join(dir, "planningpoker", "identity.json"), nil
}

func (c *FileCache) Lookup(ctx context.Context, sessionID uuid.UUID) (*estimation.CachedIdentity, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, err := c.load()
	if err != nil {
		return nil, err
	}
	id, ok := st.Sessions[sessionID]
	if !ok {
		return nil, nil
	}
	return &id, nil
}

func (c *FileCache) Remember(ctx context.Context, sessionID uuid.UUID, userName string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, err := c.load()
	if err != nil {
		return err
	}
	st.LastUsedName = userName
	st.Sessions[sessionID] = estimation.CachedIdentity{
		SessionID: sessionID,
		UserName:  userName,
		JoinedAt:  c.clock.Now().UTC(),
	}
	return c.save(st)
}

func (c *FileCache) Forget(ctx context.Context, sessionID uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, err := c.load()
	if err != nil {
		return err
	}
	if _, ok := st.Sessions[sessionID]; !ok {
		return nil
	}
	delete(st.Sessions, sessionID)
	return c.save(st)
}

func (c *FileCache) LastUsedName(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, err := c.load()
	if err != nil {
		return "", err
	}
	return st.LastUsedName, nil
}

func (c *FileCache) load() (*fileState, error) {
	st := &fileState{Sessions: make(map[uuid.UUID]estimation.CachedIdentity)}
	data, err := os.ReadFile(c.path)
	if errors.Is(err, fs.ErrNotExist) {
		return st, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read identity cache: %w", err)
	}
	if err := json.Unmarshal(data, st); err != nil {
		return nil, fmt.Errorf("parse identity cache: %w", err)
	}
	if st.Sessions == nil {
		st.Sessions = make(map[uuid.UUID]estimation.CachedIdentity)
	}
	return st, nil
}

// save replaces the file through a rename so readers never see a partial write.
func (c *FileCache) save(st *fileState) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encode identity cache: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o700); err != nil {
		return fmt.Errorf("create identity cache dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(c.path), ".identity-*")
	if err != nil {
		return fmt.Errorf("create identity cache: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write identity cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write identity cache: %w", err)
	}
	if err := os.Rename(tmp.Name(), c.path); err != nil {
		return fmt.Errorf("replace identity cache: %w", err)
	}
	return nil
}
