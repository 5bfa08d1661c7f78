// Package version records undo information for a page and reconstructs past
// versions by replay.
//
// No snapshots are stored. Each request that mutates a page closes one
// change-set; reaching version n means copying the live tree and reversing
// every later change on the copy:
//
//	plan, err := m.UndoPlan(n)
//	if errors.Is(err, version.ErrVersionUnavailable) {
//	    // history was discarded; this is not version 0
//	}
//	copy := live.Clone()
//	err = version.Replay(copy, plan)
//
// Change-sets are append-only while their request runs and read-only after
// it, so replays may run concurrently with one another.
package version
