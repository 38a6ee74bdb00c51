package datasite

import (
	"path/filepath"
	"slices"
	"strings"
)

// Snapshot is the set of records of one datasite, unique by path.
type Snapshot map[string]*FileMetadata

// NewSnapshot builds a snapshot from a record list. When the list repeats a
// path the last record wins.
func NewSnapshot(records ...*FileMetadata) Snapshot {
	s := make(Snapshot, len(records))
	for _, r := range records {
		s.Put(r)
	}
	return s
}

// Put inserts a record, replacing any record already stored for its path.
func (s Snapshot) Put(r *FileMetadata) {
	if r == nil {
		return
	}
	s[r.Path] = r.Clone()
}

func (s Snapshot) Get(path string) (*FileMetadata, bool) {
	r, ok := s[path]
	return r, ok
}

func (s Snapshot) Has(path string) bool {
	_, ok := s[path]
	return ok
}

// Contains reports whether the exact record (every field) is in the snapshot.
func (s Snapshot) Contains(r *FileMetadata) bool {
	existing, ok := s[r.Path]
	return ok && existing.Equal(r)
}

func (s Snapshot) Clone() Snapshot {
	c := make(Snapshot, len(s))
	for p, r := range s {
		c[p] = r.Clone()
	}
	return c
}

// Paths returns the sorted paths of the snapshot.
func (s Snapshot) Paths() []string {
	paths := make([]string, 0, len(s))
	for p := range s {
		paths = append(paths, p)
	}
	slices.Sort(paths)
	return paths
}

// Records returns the records sorted by path.
func (s Snapshot) Records() []*FileMetadata {
	records := make([]*FileMetadata, 0, len(s))
	for _, p := range s.Paths() {
		records = append(records, s[p])
	}
	return records
}

// State maps a datasite owner to its snapshot. Both the local node and the
// server hold one; they are the objects being reconciled.
type State map[string]Snapshot

// NewState builds a state from the wire shape {owner: [records]}.
func NewState(raw map[string][]*FileMetadata) State {
	st := make(State, len(raw))
	for owner, records := range raw {
		st[owner] = NewSnapshot(records...)
	}
	return st
}

func (st State) Snapshot(owner string) Snapshot {
	if s, ok := st[owner]; ok {
		return s
	}
	return Snapshot{}
}

// Put stores a record under owner, replacing the record for the same path.
func (st State) Put(owner string, r *FileMetadata) {
	s, ok := st[owner]
	if !ok {
		s = make(Snapshot)
		st[owner] = s
	}
	s.Put(r)
}

func (st State) Clone() State {
	c := make(State, len(st))
	for owner, s := range st {
		c[owner] = s.Clone()
	}
	return c
}

// Owners returns the sorted owner keys.
func (st State) Owners() []string {
	owners := make([]string, 0, len(st))
	for o := range st {
		owners = append(owners, o)
	}
	slices.Sort(owners)
	return owners
}

// Len is the number of records across every owner.
func (st State) Len() int {
	n := 0
	for _, s := range st {
		n += len(s)
	}
	return n
}

func (st State) IsEmpty() bool {
	return st.Len() == 0
}

// Only keeps the snapshot of a single owner.
func (st State) Only(owner string) State {
	out := make(State, 1)
	if s, ok := st[owner]; ok && len(s) > 0 {
		out[owner] = s.Clone()
	}
	return out
}

// Without drops the snapshot of one owner.
func (st State) Without(owner string) State {
	out := make(State, len(st))
	for o, s := range st {
		if o == owner || len(s) == 0 {
			continue
		}
		out[o] = s.Clone()
	}
	return out
}

// Filter keeps the records for which keep returns true. Owners left without
// records are dropped.
func (st State) Filter(keep func(owner string, r *FileMetadata) bool) State {
	out := make(State, len(st))
	for owner, s := range st {
		for _, r := range s {
			if keep(owner, r) {
				out.Put(owner, r)
			}
		}
	}
	return out
}

// Union merges add into a copy of base. Records of add replace the records
// of base that share their path, every other record of base is kept.
func Union(base, add State) State {
	out := base.Clone()
	for owner, s := range add {
		for _, r := range s {
			out.Put(owner, r)
		}
	}
	return out.pruned()
}

// RemovePaths returns a copy of base without the given paths of each owner.
func RemovePaths(base State, paths map[string][]string) State {
	out := base.Clone()
	for owner, ps := range paths {
		s, ok := out[owner]
		if !ok {
			continue
		}
		for _, p := range ps {
			delete(s, p)
		}
	}
	return out.pruned()
}

// PathsByOwner flattens a state into owner -> sorted paths.
func (st State) PathsByOwner() map[string][]string {
	out := make(map[string][]string, len(st))
	for owner, s := range st {
		if len(s) > 0 {
			out[owner] = s.Paths()
		}
	}
	return out
}

func (st State) pruned() State {
	for owner, s := range st {
		if len(s) == 0 {
			delete(st, owner)
		}
	}
	return st
}

// IsOwner reports whether a datasite path belongs to user. Datasite paths
// start with the owner address.
func IsOwner(path string, user string) bool {
	clean := strings.TrimLeft(filepath.ToSlash(filepath.Clean(path)), "/")
	return clean == user || strings.HasPrefix(clean, user+"/")
}
