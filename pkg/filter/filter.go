// Package filter decides which fetched candidates a run keeps.
package filter

import (
	"sort"

	"github.com/theoren0108/TweetDigest/pkg/cursor"
	"github.com/theoren0108/TweetDigest/pkg/models"
	"github.com/theoren0108/TweetDigest/pkg/normalize"
)

// Select returns the candidates newer than cur, newest first, at most limit
// of them (limit <= 0 means no limit). Candidates are de-duplicated by id,
// keeping the first occurrence.
func Select(cands []normalize.Candidate, cur cursor.Cursor, limit int) []normalize.Candidate {
	ordered := dedupe(cands)
	sortNewestFirst(ordered)

	var out []normalize.Candidate
	for _, c := range ordered {
		if limit > 0 && len(out) >= limit {
			break
		}
		if seen(c, cur) {
			break
		}
		out = append(out, c)
	}
	return out
}

// seen reports whether c is at or behind the cursor
func seen(c normalize.Candidate, cur cursor.Cursor) bool {
	if cur.SinceID != "" && cursor.CompareIDs(c.ID, cur.SinceID) <= 0 {
		return true
	}
	if cur.SinceTimestamp != nil && c.CreatedAt != nil && !c.CreatedAt.After(*cur.SinceTimestamp) {
		return true
	}
	return false
}

func dedupe(cands []normalize.Candidate) []normalize.Candidate {
	ids := make(map[string]bool, len(cands))
	out := make([]normalize.Candidate, 0, len(cands))
	for _, c := range cands {
		if ids[c.ID] {
			continue
		}
		ids[c.ID] = true
		out = append(out, c)
	}
	return out
}

// sortNewestFirst orders by (created_at, id) descending; a missing timestamp
// sorts as the oldest
func sortNewestFirst(cands []normalize.Candidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		switch {
		case a.CreatedAt == nil && b.CreatedAt != nil:
			return false
		case a.CreatedAt != nil && b.CreatedAt == nil:
			return true
		case a.CreatedAt != nil && b.CreatedAt != nil && !a.CreatedAt.Equal(*b.CreatedAt):
			return a.CreatedAt.After(*b.CreatedAt)
		}
		return cursor.CompareIDs(a.ID, b.ID) > 0
	})
}

// Budget is the global cap on accepted posts for one run
type Budget struct {
	remaining int
}

// NewBudget creates a budget of max posts
func NewBudget(max int) *Budget {
	if max < 0 {
		max = 0
	}
	return &Budget{remaining: max}
}

// Limit returns how many posts an account may take given its own limit
func (b *Budget) Limit(perAccount int) int {
	if perAccount <= 0 || perAccount > b.remaining {
		return b.remaining
	}
	return perAccount
}

// Spend consumes n posts from the budget
func (b *Budget) Spend(n int) {
	b.remaining -= n
	if b.remaining < 0 {
		b.remaining = 0
	}
}

// Remaining returns the unspent budget
func (b *Budget) Remaining() int {
	return b.remaining
}

// Exhausted reports whether nothing more can be accepted
func (b *Budget) Exhausted() bool {
	return b.remaining <= 0
}

// Outcome is the result of filtering one fetch across all accounts
type Outcome struct {
	// Selected holds accepted candidates per account, newest first
	Selected map[string][]normalize.Candidate
	// Skipped lists accounts not processed because the budget ran out
	Skipped []string
	// Untracked counts candidates whose author is not a tracked account
	Untracked int
}

// Total returns the number of accepted candidates
func (o Outcome) Total() int {
	n := 0
	for _, cands := range o.Selected {
		n += len(cands)
	}
	return n
}

// Accepted flattens the selection in account order
func (o Outcome) Accepted(accounts []string) []normalize.Candidate {
	var out []normalize.Candidate
	for _, a := range accounts {
		out = append(out, o.Selected[models.NormalizeHandle(a)]...)
	}
	return out
}

// Apply filters candidates for the tracked accounts, in the given order,
// against their cursors, the per-account limit and the global cap
func Apply(accounts []string, cands []normalize.Candidate, cursors map[string]cursor.Cursor, perAccount, globalCap int) Outcome {
	tracked := make(map[string]bool, len(accounts))
	for _, a := range accounts {
		tracked[models.NormalizeHandle(a)] = true
	}

	byAccount := make(map[string][]normalize.Candidate)
	out := Outcome{Selected: make(map[string][]normalize.Candidate)}
	for _, c := range cands {
		if !tracked[c.Account] {
			out.Untracked++
			continue
		}
		byAccount[c.Account] = append(byAccount[c.Account], c)
	}

	budget := NewBudget(globalCap)
	done := make(map[string]bool, len(accounts))
	for _, a := range accounts {
		handle := models.NormalizeHandle(a)
		if done[handle] {
			continue
		}
		done[handle] = true
		if budget.Exhausted() {
			out.Skipped = append(out.Skipped, handle)
			continue
		}
		selected := Select(byAccount[handle], cursors[handle], budget.Limit(perAccount))
		budget.Spend(len(selected))
		if len(selected) > 0 {
			out.Selected[handle] = selected
		}
	}
	return out
}
