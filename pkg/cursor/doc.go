// Package cursor tracks, per account, the newest post already ingested.
//
// A cursor is the pair (since_id, since_timestamp). The fetch filter stops at
// the first candidate at or behind it, and the pipeline advances it only after
// the posts that moved it are committed. Cursors never move backwards: Merge
// carries the ordering rule and Store persists the result in the accounts table.
package cursor
