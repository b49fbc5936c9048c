package detach

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// tempSuffix marks half-written files; List never reports them
const tempSuffix = ".tmp"

// FilesystemBackend keeps each encoded entity in its own file under a base
// directory. Keys are slash-separated and may not climb out of the base.
type FilesystemBackend struct {
	basePath string
}

// NewFilesystemBackend creates a backend rooted at basePath
func NewFilesystemBackend(basePath string) *FilesystemBackend {
	return &FilesystemBackend{basePath: basePath}
}

// resolve maps key to a path inside basePath
func (b *FilesystemBackend) resolve(key string) (string, error) {
	local := filepath.FromSlash(key)
	if key == "" || !filepath.IsLocal(local) {
		return "", WithContext(ErrInvalidConfig, map[string]interface{}{
			"key":    key,
			"reason": "key must be a relative path inside the data directory",
		})
	}
	return filepath.Join(b.basePath, local), nil
}

func (b *FilesystemBackend) Get(ctx context.Context, key string) ([]byte, error) {
	path, err := b.resolve(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, WithContext(ErrNotFound, map[string]interface{}{"key": key})
	}
	return data, err
}

// Put writes to a sibling temp file and renames it into place, so a reader
// sees either the previous document or the new one
func (b *FilesystemBackend) Put(ctx context.Context, key string, data []byte) error {
	path, err := b.resolve(key)
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*"+tempSuffix)
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(DefaultFilePermissions); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func (b *FilesystemBackend) Delete(ctx context.Context, key string) error {
	path, err := b.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); errors.Is(err, fs.ErrNotExist) {
		return WithContext(ErrNotFound, map[string]interface{}{"key": key})
	} else if err != nil {
		return err
	}
	return nil
}

func (b *FilesystemBackend) Exists(ctx context.Context, key string) (bool, error) {
	path, err := b.resolve(key)
	if err != nil {
		return false, err
	}
	switch _, err := os.Stat(path); {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}

// List walks the directory named by prefix. An empty prefix lists the
// whole store; a prefix with no directory behind it lists nothing.
func (b *FilesystemBackend) List(ctx context.Context, prefix string) ([]string, error) {
	root := b.basePath
	if prefix != "" {
		var err error
		if root, err = b.resolve(prefix); err != nil {
			return nil, err
		}
	}

	keys := []string{}
	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if errors.Is(err, fs.ErrNotExist) && path == root {
			return fs.SkipAll
		}
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if entry.IsDir() || strings.HasSuffix(entry.Name(), tempSuffix) {
			return nil
		}
		rel, err := filepath.Rel(b.basePath, path)
		if err != nil {
			return err
		}
		keys = append(keys, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

// Ping requires the base path to be a writable directory
func (b *FilesystemBackend) Ping(ctx context.Context) error {
	unavailable := func(reason string, cause error) error {
		details := map[string]interface{}{"path": b.basePath, "reason": reason}
		if cause != nil {
			details["cause"] = cause.Error()
		}
		return WithContext(ErrBackendUnavailable, details)
	}

	info, err := os.Stat(b.basePath)
	if err != nil {
		return unavailable("cannot stat data directory", err)
	}
	if !info.IsDir() {
		return unavailable("data directory is not a directory", nil)
	}

	check, err := os.CreateTemp(b.basePath, ".ping-*"+tempSuffix)
	if err != nil {
		return unavailable("data directory is not writable", err)
	}
	check.Close()
	return os.Remove(check.Name())
}

func (b *FilesystemBackend) Close() error {
	return nil
}
