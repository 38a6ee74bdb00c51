package datasite

import (
	mapset "github.com/deckarep/golang-set/v2"
)

// Reconciliation is the result of comparing a local and a remote state.
type Reconciliation struct {
	// Pull holds remote records missing locally, new files and new versions.
	Pull State
	// Push holds local records missing remotely.
	Push State
	// DeleteLocal holds local records whose path is gone from the remote.
	DeleteLocal State
	// DeleteRemote holds remote records whose path is gone locally.
	DeleteRemote State
}

// Reconcile compares two point-in-time states. It is a pure function; every
// owner is handled independently and the result carries no ordering.
//
// A changed file (same path, different record) shows up in Pull and Push as
// a new version but never in a delete set, deletion is decided on path
// absence only.
func Reconcile(local, remote State) *Reconciliation {
	return &Reconciliation{
		Pull:         Diff(remote, local),
		Push:         Diff(local, remote),
		DeleteLocal:  PathsAbsent(local, remote),
		DeleteRemote: PathsAbsent(remote, local),
	}
}

func (r *Reconciliation) HasChanges() bool {
	return !r.Pull.IsEmpty() ||
		!r.Push.IsEmpty() ||
		!r.DeleteLocal.IsEmpty() ||
		!r.DeleteRemote.IsEmpty()
}

// Diff returns, per owner, the records of lhs whose full record is absent
// from rhs.
func Diff(lhs, rhs State) State {
	out := make(State)
	for owner, left := range lhs {
		right := rhs[owner]

		leftKeys := make(map[recordKey]*FileMetadata, len(left))
		leftSet := mapset.NewThreadUnsafeSetWithSize[recordKey](len(left))
		for _, r := range left {
			k := r.key()
			leftKeys[k] = r
			leftSet.Add(k)
		}

		rightSet := mapset.NewThreadUnsafeSetWithSize[recordKey](len(right))
		for _, r := range right {
			rightSet.Add(r.key())
		}

		for _, k := range leftSet.Difference(rightSet).ToSlice() {
			out.Put(owner, leftKeys[k])
		}
	}
	return out
}

// PathsAbsent returns, per owner, the records of lhs whose path does not
// appear in rhs at all.
func PathsAbsent(lhs, rhs State) State {
	out := make(State)
	for owner, left := range lhs {
		right := rhs[owner]

		leftPaths := mapset.NewThreadUnsafeSetWithSize[string](len(left))
		for p := range left {
			leftPaths.Add(p)
		}
		rightPaths := mapset.NewThreadUnsafeSetWithSize[string](len(right))
		for p := range right {
			rightPaths.Add(p)
		}

		for _, p := range leftPaths.Difference(rightPaths).ToSlice() {
			out.Put(owner, left[p])
		}
	}
	return out
}
