package cursor

import (
	"strings"
	"time"
)

// Cursor is the highest-seen (id, timestamp) pair for one account
type Cursor struct {
	SinceID        string
	SinceTimestamp *time.Time
}

// Empty reports whether nothing has been fetched for the account yet
func (c Cursor) Empty() bool {
	return c.SinceID == "" && c.SinceTimestamp == nil
}

// Merge returns the cursor after observing (id, ts). Values only move forward:
//   - the id is taken when there is no prior id, or when it compares greater
//     than the stored id and ts is not older than the stored timestamp
//   - an id that compares lower than the stored one is never taken, even with a newer ts
//   - the timestamp is the later of the two
func (c Cursor) Merge(id string, ts *time.Time) Cursor {
	if id == "" {
		return c
	}
	next := c

	switch {
	case c.SinceID == "":
		next.SinceID = id
	case ts != nil && c.SinceTimestamp != nil && ts.After(*c.SinceTimestamp):
		if CompareIDs(id, c.SinceID) > 0 {
			next.SinceID = id
		}
	case ts != nil && c.SinceTimestamp != nil && ts.Before(*c.SinceTimestamp):
		// older record, keep the stored id
	default:
		if CompareIDs(id, c.SinceID) > 0 {
			next.SinceID = id
		}
	}

	if ts != nil && (c.SinceTimestamp == nil || ts.After(*c.SinceTimestamp)) {
		t := ts.UTC()
		next.SinceTimestamp = &t
	}
	return next
}

// CompareIDs orders provider ids. Decimal strings compare numerically without
// conversion, so snowflake ids of different lengths order correctly; anything
// else compares lexically.
func CompareIDs(a, b string) int {
	if isDigits(a) && isDigits(b) {
		a = strings.TrimLeft(a, "0")
		b = strings.TrimLeft(b, "0")
		if len(a) != len(b) {
			if len(a) < len(b) {
				return -1
			}
			return 1
		}
	}
	return strings.Compare(a, b)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
