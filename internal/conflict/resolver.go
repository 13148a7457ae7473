// Package conflict decides which copy of a record survives when a local and
// a remote version of the same id disagree.
package conflict

import "github.com/example/wellness-sync-engine/internal/types"

// Resolve applies whole-record last-write-wins over normalized UpdatedAt.
// A strictly newer timestamp wins outright. On exact equality the local copy
// wins: the device currently syncing is assumed to hold the most immediately
// relevant state, and the tie-break must be deterministic. No field-level
// merge is attempted.
func Resolve(local, remote types.Record) types.Record {
	if remote.UpdatedAt.After(local.UpdatedAt) {
		return remote
	}
	return local
}

// LocalWins reports whether Resolve would keep the local copy. Handy for
// callers that only need the decision, not the record.
func LocalWins(local, remote types.Record) bool {
	return !remote.UpdatedAt.After(local.UpdatedAt)
}
