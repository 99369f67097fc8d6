// Package querystore keeps named queries as files in a directory tree:
// the query ns:name lives in <root>/<ns>/<name>.mql. Default parameter
// values belong in the body's with prologue.
package querystore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/ivmfnal/metacat-sub001/internal/ir"
)

// Ext is the file extension of stored queries.
const Ext = ".mql"

// Dir is a directory-backed named query store. Bodies are cached in
// memory; Reload or Watch picks up changes made on disk. Dir is safe for
// concurrent use.
type Dir struct {
	root   string
	logger *slog.Logger

	mu      sync.RWMutex
	queries map[ir.DID]ir.NamedQuery
}

// Open loads every query under root, creating root if needed.
func Open(root string, logger *slog.Logger) (*Dir, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create query directory: %w", err)
	}
	d := &Dir{root: root, logger: logger}
	if err := d.Reload(); err != nil {
		return nil, err
	}
	return d, nil
}

// Root returns the directory the store reads.
func (d *Dir) Root() string { return d.root }

// Reload rereads the whole tree.
func (d *Dir) Reload() error {
	queries := make(map[ir.DID]ir.NamedQuery)
	err := filepath.WalkDir(d.root, func(path string, e fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		did, ok := d.didOf(path)
		if e.IsDir() || !ok {
			return nil
		}
		q, err := readQuery(path, did)
		if err != nil {
			return err
		}
		queries[did] = q
		return nil
	})
	if err != nil {
		return fmt.Errorf("load queries from %s: %w", d.root, err)
	}

	d.mu.Lock()
	d.queries = queries
	d.mu.Unlock()
	d.logger.Debug("loaded named queries", "root", d.root, "count", len(queries))
	return nil
}

// didOf maps <root>/<ns>/<name>.mql to ns:name.
func (d *Dir) didOf(path string) (ir.DID, bool) {
	rel, err := filepath.Rel(d.root, path)
	if err != nil || !strings.HasSuffix(rel, Ext) {
		return ir.DID{}, false
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) != 2 {
		return ir.DID{}, false
	}
	name := strings.TrimSuffix(parts[1], Ext)
	if parts[0] == "" || name == "" {
		return ir.DID{}, false
	}
	return ir.DID{Namespace: parts[0], Name: name}, true
}

func (d *Dir) pathOf(did ir.DID) string {
	return filepath.Join(d.root, did.Namespace, did.Name+Ext)
}

func readQuery(path string, did ir.DID) (ir.NamedQuery, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return ir.NamedQuery{}, err
	}
	return ir.NamedQuery{Namespace: did.Namespace, Name: did.Name, Source: string(body)}, nil
}

// GetQuery implements compiler.QueryStore.
func (d *Dir) GetQuery(_ context.Context, namespace, name string) (ir.NamedQuery, bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	q, ok := d.queries[ir.DID{Namespace: namespace, Name: name}]
	return q, ok, nil
}

// Queries returns every query, ordered by namespace and name.
func (d *Dir) Queries(_ context.Context) ([]ir.NamedQuery, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]ir.NamedQuery, 0, len(d.queries))
	for _, q := range d.queries {
		out = append(out, q)
	}
	slices.SortFunc(out, func(a, b ir.NamedQuery) int {
		return strings.Compare(a.DID().String(), b.DID().String())
	})
	return out, nil
}

// PutQuery writes q to its file. Parameter defaults cannot be stored.
func (d *Dir) PutQuery(_ context.Context, q ir.NamedQuery) error {
	if len(q.Params) > 0 {
		return fmt.Errorf("query %s: a query directory keeps no parameter defaults; use a with prologue", q.DID())
	}
	if strings.ContainsAny(q.Namespace+q.Name, `/\`) || q.Namespace == "" || q.Name == "" {
		return fmt.Errorf("query %s: name cannot be stored as a file", q.DID())
	}
	path := d.pathOf(q.DID())
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("put query %s: %w", q.DID(), err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(q.Source), 0o644); err != nil {
		return fmt.Errorf("put query %s: %w", q.DID(), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("put query %s: %w", q.DID(), err)
	}

	d.mu.Lock()
	d.queries[q.DID()] = ir.NamedQuery{Namespace: q.Namespace, Name: q.Name, Source: q.Source}
	d.mu.Unlock()
	return nil
}

// Watch keeps the cache in sync with the directory until ctx ends.
// onChange, if not nil, is called with each query added, changed or
// removed.
func (d *Dir) Watch(ctx context.Context, onChange func(ir.DID)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("cannot create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(d.root); err != nil {
		return fmt.Errorf("cannot watch %s: %w", d.root, err)
	}
	entries, err := os.ReadDir(d.root)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			if err := watcher.Add(filepath.Join(d.root, e.Name())); err != nil {
				return fmt.Errorf("cannot watch namespace %s: %w", e.Name(), err)
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				d.logger.Debug("fsnotify watcher channel is closed.")
				return nil
			}
			d.handle(watcher, event, onChange)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			d.logger.Warn("query directory watch error", "root", d.root, "error", err)
		}
	}
}

func (d *Dir) handle(watcher *fsnotify.Watcher, event fsnotify.Event, onChange func(ir.DID)) {
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := watcher.Add(event.Name); err != nil {
				d.logger.Warn("cannot watch namespace directory", "path", event.Name, "error", err)
			}
			// Files may land before the watch is in place.
			if err := d.Reload(); err != nil {
				d.logger.Warn("reload failed", "error", err)
			}
			return
		}
	}

	did, ok := d.didOf(event.Name)
	if !ok {
		return
	}
	switch {
	case event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename):
		d.mu.Lock()
		delete(d.queries, did)
		d.mu.Unlock()
		d.logger.Info("named query removed", "query", did.String())

	case event.Has(fsnotify.Create) || event.Has(fsnotify.Write):
		q, err := readQuery(event.Name, did)
		if errors.Is(err, fs.ErrNotExist) {
			return
		}
		if err != nil {
			d.logger.Warn("cannot read named query", "query", did.String(), "error", err)
			return
		}
		d.mu.Lock()
		d.queries[did] = q
		d.mu.Unlock()
		d.logger.Info("named query updated", "query", did.String())

	default:
		return
	}
	if onChange != nil {
		onChange(did)
	}
}
