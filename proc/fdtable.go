package proc

import "sync"

/// FDTable is a process's shareable handle to its open file descriptor
/// table. The VFS objects a descriptor would actually name are out of
/// scope here; this only carries the share/clone/release lifecycle a
/// real fork and exit need: CLONE_FILES-style sharing keeps one table
/// behind a single pointer, a private fork clones the entries, and
/// exit drops the handle entirely.
type FDTable struct {
	mu      sync.Mutex
	entries map[int32]struct{}
}

/// NewFDTable returns an empty file descriptor table.
func NewFDTable() *FDTable {
	return &FDTable{entries: map[int32]struct{}{}}
}

/// Clone returns a private copy of t, for a fork that does not share
/// CLONE_FILES-style.
func (t *FDTable) Clone() *FDTable {
	t.mu.Lock()
	defer t.mu.Unlock()
	c := NewFDTable()
	for fd := range t.entries {
		c.entries[fd] = struct{}{}
	}
	return c
}

/// Add records fd as open.
func (t *FDTable) Add(fd int32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[fd] = struct{}{}
}

/// Remove records fd as closed.
func (t *FDTable) Remove(fd int32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, fd)
}

/// Has reports whether fd is currently open in t.
func (t *FDTable) Has(fd int32) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[fd]
	return ok
}

/// Count returns the number of open descriptors in t.
func (t *FDTable) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
