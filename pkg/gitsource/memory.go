package gitsource

import (
	"context"
	"sort"
	"sync"

	"github.com/ironlayer/ironlayer/pkg/errdefs"
)

// MemorySource is a Source backed by an in-memory map of revisions to file
// trees. Local mode and tests use it to exercise the plan pipeline without
// a git checkout; diffs are computed structurally between the two trees.
type MemorySource struct {
	mu   sync.RWMutex
	revs map[string]map[string][]byte
}

// NewMemorySource builds an empty source.
func NewMemorySource() *MemorySource {
	return &MemorySource{revs: make(map[string]map[string][]byte)}
}

// AddRevision registers the complete file tree visible at ref. Later calls
// with the same ref replace the tree.
func (m *MemorySource) AddRevision(ref string, files map[string]string) {
	tree := make(map[string][]byte, len(files))
	for path, content := range files {
		tree[path] = []byte(content)
	}
	m.mu.Lock()
	m.revs[ref] = tree
	m.mu.Unlock()
}

// ListChangedSQLFiles diffs the two registered trees.
func (m *MemorySource) ListChangedSQLFiles(ctx context.Context, base, target string) ([]ChangedFile, error) {
	if err := ValidateRef(base); err != nil {
		return nil, err
	}
	if err := ValidateRef(target); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	baseTree, ok := m.revs[base]
	if !ok {
		return nil, errdefs.NotFoundf("revision %s not found", base)
	}
	targetTree, ok := m.revs[target]
	if !ok {
		return nil, errdefs.NotFoundf("revision %s not found", target)
	}

	var changed []ChangedFile
	for path, content := range targetTree {
		if !isSQLPath(path) {
			continue
		}
		old, existed := baseTree[path]
		switch {
		case !existed:
			changed = append(changed, ChangedFile{Path: path, Status: StatusAdded})
		case string(old) != string(content):
			changed = append(changed, ChangedFile{Path: path, Status: StatusModified})
		}
	}
	for path := range baseTree {
		if !isSQLPath(path) {
			continue
		}
		if _, still := targetTree[path]; !still {
			changed = append(changed, ChangedFile{Path: path, Status: StatusDeleted})
		}
	}
	sort.Slice(changed, func(i, j int) bool { return changed[i].Path < changed[j].Path })
	return changed, nil
}

// ReadFileAt returns the registered contents of path at ref.
func (m *MemorySource) ReadFileAt(ctx context.Context, ref, path string) ([]byte, error) {
	if err := ValidateRef(ref); err != nil {
		return nil, err
	}
	if err := ValidatePath(path); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	tree, ok := m.revs[ref]
	if !ok {
		return nil, errdefs.NotFoundf("revision %s not found", ref)
	}
	content, ok := tree[path]
	if !ok {
		return nil, errdefs.NotFoundf("path %s not found at %s", path, ref)
	}
	out := make([]byte, len(content))
	copy(out, content)
	return out, nil
}

// ListSQLFilesAt lists the .sql paths registered at ref.
func (m *MemorySource) ListSQLFilesAt(ctx context.Context, ref string) ([]string, error) {
	if err := ValidateRef(ref); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	tree, ok := m.revs[ref]
	if !ok {
		return nil, errdefs.NotFoundf("revision %s not found", ref)
	}
	var paths []string
	for path := range tree {
		if isSQLPath(path) {
			paths = append(paths, path)
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// ResolveRef is the identity for registered revisions.
func (m *MemorySource) ResolveRef(ctx context.Context, ref string) (string, error) {
	if err := ValidateRef(ref); err != nil {
		return "", err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.revs[ref]; !ok {
		return "", errdefs.NotFoundf("revision %s not found", ref)
	}
	return ref, nil
}

var _ Source = (*MemorySource)(nil)
