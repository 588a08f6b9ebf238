// Package filestore implements the State Store port (spec.md §4.1) as
// atomically-written JSON documents on the local filesystem: one file per
// collection, written to a sibling temp file and renamed over the target,
// grounded on the teacher-adjacent Kkasuga904-Gate example's
// write-then-rename request-log idiom. A sync.Mutex per collection
// serializes writers within the process.
package filestore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/portero-gateway/portero/internal/apperr"
	"github.com/portero-gateway/portero/internal/domain/admin"
	"github.com/portero-gateway/portero/internal/domain/grant"
	"github.com/portero-gateway/portero/internal/domain/policy"
	"github.com/portero-gateway/portero/internal/domain/task"
	"github.com/portero-gateway/portero/internal/port/store"
)

// Store is a filesystem-backed implementation of store.Store.
type Store struct {
	dir string

	tasksMu sync.Mutex
	grantMu sync.Mutex
	ruleMu  sync.Mutex
	adminMu sync.Mutex
	auditMu sync.Mutex
}

// New returns a Store rooted at dir, creating dir if it does not exist.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, apperr.Wrap(apperr.KindStore, "create state dir", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name)
}

// atomicWriteJSON serializes v and atomically replaces path with it: write
// to a sibling ".tmp" file in the same directory, then rename (spec.md
// §4.1 durability primitive; spec.md §9 "atomic file replacement as the
// only durability primitive").
func atomicWriteJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	tmp := filepath.Join(filepath.Dir(path), fmt.Sprintf(".%s.tmp", filepath.Base(path)))
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	return os.Rename(tmp, path)
}

// readJSON reads and decodes path into v. A missing file is treated as the
// documented empty shape: v is left untouched and no error is returned.
func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path) //nolint:gosec // path is built from a fixed operator-configured dir
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

func newID() string {
	return uuid.NewString()
}

var _ store.Store = (*Store)(nil)

// document wraps a collection's ordered list under a single top-level field
// (spec.md §6 "Persisted-state layout": one document per collection, list
// order insertion-newest-first).
type tasksDoc struct {
	Tasks []*task.Task `json:"tasks"`
}

type grantsDoc struct {
	Grants []*grant.Grant `json:"grants"`
}

type rulesDoc struct {
	Rules []*policy.DynamicRule `json:"rules"`
}

type adminDoc struct {
	Admin admin.Pairing `json:"admin"`
}

// prepend inserts v at the front, keeping insertion-newest-first order.
func prepend[T any](list []T, v T) []T {
	out := make([]T, 0, len(list)+1)
	out = append(out, v)
	out = append(out, list...)
	return out
}

func clampLimit(n, size int) int {
	if n <= 0 || n > size {
		return size
	}
	return n
}

var nowFunc = time.Now
