// Package session owns the ordered conversation record and its restoration.
//
// A Manifest is an append-only log of message envelopes plus an aggregate
// token tracker; serializing it (with blobs extracted by internal/persist)
// and restoring it are the two halves of session durability. Restore
// rebuilds turn boundaries from envelope order and validates the record
// before handing it back: the aggregate tracker must equal the per-message
// usage sum, and every parent reference must resolve to an earlier message.
//
// The correctness bar for restoration is functional equivalence: the API
// wire form of a restored session (APIMessages) is byte-identical to that of
// a session that was never persisted.
package session
