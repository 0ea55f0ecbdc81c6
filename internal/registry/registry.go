package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/flock"
)

// ErrUnavailable reports that the backing file could not be read or written.
var ErrUnavailable = errors.New("model registry unavailable")

// Record holds the known artifact paths for one model.
type Record struct {
	WeightsPath string `json:"weights_path,omitempty"`
	IndexPath   string `json:"index_path,omitempty"`
}

// Complete reports whether both artifacts are known.
func (r Record) Complete() bool {
	return r.WeightsPath != "" && r.IndexPath != ""
}

// Update carries the fields to merge into a record. Empty fields are ignored.
type Update struct {
	WeightsPath string
	IndexPath   string
}

const lockRetryDelay = 25 * time.Millisecond

// Registry is a JSON document mapping model names to artifact paths, guarded by
// advisory locks on a sidecar file so separate worker processes can share it.
type Registry struct {
	path     string
	lockPath string
}

// New returns a registry backed by the JSON file at path. The file does not need
// to exist yet.
func New(path string) (*Registry, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("registry path is required")
	}
	return &Registry{path: path, lockPath: path + ".lock"}, nil
}

// Path returns the registry document location.
func (r *Registry) Path() string {
	return r.path
}

// Get returns the record for modelName. A missing file or key yields ok=false.
func (r *Registry) Get(ctx context.Context, modelName string) (Record, bool, error) {
	var (
		rec Record
		ok  bool
	)
	err := r.withLock(ctx, false, func() error {
		doc, err := r.read()
		if err != nil {
			return err
		}
		rec, ok = doc[modelName]
		return nil
	})
	if err != nil {
		return Record{}, false, err
	}
	return rec, ok, nil
}

// List returns a copy of every record.
func (r *Registry) List(ctx context.Context) (map[string]Record, error) {
	var out map[string]Record
	err := r.withLock(ctx, false, func() error {
		doc, err := r.read()
		if err != nil {
			return err
		}
		out = doc
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Names returns the registered model names in sorted order.
func (r *Registry) Names(ctx context.Context) ([]string, error) {
	doc, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(doc))
	for name := range doc {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Merge applies update to modelName's record, creating it when absent. Fields
// left empty in update keep their previous value.
func (r *Registry) Merge(ctx context.Context, modelName string, update Update) error {
	modelName = strings.TrimSpace(modelName)
	if modelName == "" {
		return errors.New("model name is required")
	}
	return r.withLock(ctx, true, func() error {
		doc, err := r.read()
		if err != nil {
			return err
		}
		rec := doc[modelName]
		if update.WeightsPath != "" {
			rec.WeightsPath = update.WeightsPath
		}
		if update.IndexPath != "" {
			rec.IndexPath = update.IndexPath
		}
		doc[modelName] = rec
		return r.write(doc)
	})
}

func (r *Registry) withLock(ctx context.Context, exclusive bool, fn func() error) error {
	if err := os.MkdirAll(filepath.Dir(r.lockPath), 0o755); err != nil {
		return fmt.Errorf("%w: create registry directory: %w", ErrUnavailable, err)
	}
	// Each operation gets its own handle; flock locks are per open file description.
	lock := flock.New(r.lockPath)
	var (
		locked bool
		err    error
	)
	if exclusive {
		locked, err = lock.TryLockContext(ctx, lockRetryDelay)
	} else {
		locked, err = lock.TryRLockContext(ctx, lockRetryDelay)
	}
	if err != nil {
		return fmt.Errorf("%w: acquire lock: %w", ErrUnavailable, err)
	}
	if !locked {
		return fmt.Errorf("%w: lock not acquired", ErrUnavailable)
	}
	defer func() {
		_ = lock.Unlock()
		_ = lock.Close()
	}()
	return fn()
}

func (r *Registry) read() (map[string]Record, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]Record{}, nil
		}
		return nil, fmt.Errorf("%w: read %s: %w", ErrUnavailable, r.path, err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return map[string]Record{}, nil
	}
	doc := map[string]Record{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %w", ErrUnavailable, r.path, err)
	}
	return doc, nil
}

func (r *Registry) write(doc map[string]Record) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode registry: %w", ErrUnavailable, err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(filepath.Dir(r.path), filepath.Base(r.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: create temp file: %w", ErrUnavailable, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("%w: write temp file: %w", ErrUnavailable, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("%w: sync temp file: %w", ErrUnavailable, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("%w: close temp file: %w", ErrUnavailable, err)
	}
	if err := os.Rename(tmpName, r.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("%w: replace %s: %w", ErrUnavailable, r.path, err)
	}
	return nil
}
