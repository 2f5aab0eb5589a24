// Package fs implements the storage backend over a local directory tree.
// Each area maps to a subdirectory created lazily on first write; each key
// maps to one file whose name is the URL-safe base64 of the key, so ListKeys
// can recover the original keys at startup.
package fs

import (
	"encoding/base64"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/streamvault/streamvault/pkg/errors"
	"github.com/streamvault/streamvault/pkg/types"
)

const fileExt = ".json"

// Store is a filesystem-backed types.Storage.
type Store struct {
	mu     sync.Mutex
	root   string
	made   map[types.Area]bool
	logger *slog.Logger
}

// New creates a Store rooted at dir, creating it if needed.
func New(dir string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, errors.Wrap(errors.ErrCodeStorageWrite, "failed to create cache directory", err).
			WithComponent("storage.fs").WithDetail("dir", dir)
	}
	return &Store{
		root:   dir,
		made:   make(map[types.Area]bool),
		logger: logger,
	}, nil
}

// Root returns the base directory of the store.
func (s *Store) Root() string {
	return s.root
}

// Put writes data under key, atomically via a temp file rename.
func (s *Store) Put(area types.Area, key string, data []byte) error {
	dir, err := s.areaDir(area)
	if err != nil {
		return err
	}

	path := filepath.Join(dir, encodeKey(key))
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return errors.Wrap(errors.ErrCodeStorageWrite, "failed to write entry", err).
			WithComponent("storage.fs").WithOperation("put").
			WithDetail("area", string(area)).WithDetail("key", key)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return errors.Wrap(errors.ErrCodeStorageWrite, "failed to finalize entry", err).
			WithComponent("storage.fs").WithOperation("put").
			WithDetail("area", string(area)).WithDetail("key", key)
	}
	return nil
}

// Get returns the bytes for key, or (nil, nil) when absent.
func (s *Store) Get(area types.Area, key string) ([]byte, error) {
	path := filepath.Join(s.root, string(area), encodeKey(key))
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(errors.ErrCodeStorageRead, "failed to read entry", err).
			WithComponent("storage.fs").WithOperation("get").
			WithDetail("area", string(area)).WithDetail("key", key)
	}
	return data, nil
}

// Delete removes the key. A missing key is not an error.
func (s *Store) Delete(area types.Area, key string) error {
	path := filepath.Join(s.root, string(area), encodeKey(key))
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(errors.ErrCodeStorageDelete, "failed to delete entry", err).
			WithComponent("storage.fs").WithOperation("delete").
			WithDetail("area", string(area)).WithDetail("key", key)
	}
	return nil
}

// ListKeys enumerates every key in the area. Files whose names do not decode
// back to a key are removed; they cannot be addressed and would otherwise
// poison every rebuild.
func (s *Store) ListKeys(area types.Area) ([]string, error) {
	dir := filepath.Join(s.root, string(area))
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(errors.ErrCodeStorageList, "failed to list area", err).
			WithComponent("storage.fs").WithDetail("area", string(area))
	}

	keys := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || strings.HasSuffix(entry.Name(), ".tmp") {
			continue
		}
		key, ok := decodeKey(entry.Name())
		if !ok {
			s.logger.Warn("removing unaddressable cache file",
				"area", string(area), "file", entry.Name())
			_ = os.Remove(filepath.Join(dir, entry.Name()))
			continue
		}
		keys = append(keys, key)
	}
	return keys, nil
}

func (s *Store) areaDir(area types.Area) (string, error) {
	dir := filepath.Join(s.root, string(area))

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.made[area] {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return "", errors.Wrap(errors.ErrCodeStorageWrite, "failed to create area directory", err).
				WithComponent("storage.fs").WithDetail("area", string(area))
		}
		s.made[area] = true
	}
	return dir, nil
}

func encodeKey(key string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(key)) + fileExt
}

func decodeKey(filename string) (string, bool) {
	name, found := strings.CutSuffix(filename, fileExt)
	if !found {
		return "", false
	}
	raw, err := base64.RawURLEncoding.DecodeString(name)
	if err != nil {
		return "", false
	}
	return string(raw), true
}
