package filter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/theoren0108/TweetDigest/pkg/cursor"
	"github.com/theoren0108/TweetDigest/pkg/normalize"
)

var base = time.Date(2026, 10, 15, 8, 0, 0, 0, time.UTC)

func cand(account, id string, hour int) normalize.Candidate {
	t := base.Add(time.Duration(hour) * time.Hour)
	return normalize.Candidate{ID: id, Author: account, Account: account, CreatedAt: &t}
}

func ids(cands []normalize.Candidate) []string {
	out := make([]string, len(cands))
	for i, c := range cands {
		out[i] = c.ID
	}
	return out
}

func TestSelectOrdersAndStopsAtCursor(t *testing.T) {
	cands := []normalize.Candidate{
		cand("alice", "10", 0),
		cand("alice", "12", 2),
		cand("alice", "11", 1),
		cand("alice", "13", 3),
	}
	ts := base.Add(time.Hour)

	got := Select(cands, cursor.Cursor{SinceID: "11", SinceTimestamp: &ts}, 40)
	assert.Equal(t, []string{"13", "12"}, ids(got))

	got = Select(cands, cursor.Cursor{}, 40)
	assert.Equal(t, []string{"13", "12", "11", "10"}, ids(got))

	got = Select(cands, cursor.Cursor{}, 2)
	assert.Equal(t, []string{"13", "12"}, ids(got))
}

func TestSelectStopsAtTimestampBoundary(t *testing.T) {
	ts := base.Add(2 * time.Hour)
	cands := []normalize.Candidate{cand("alice", "20", 3), cand("alice", "21", 2)}

	got := Select(cands, cursor.Cursor{SinceID: "5", SinceTimestamp: &ts}, 0)
	assert.Equal(t, []string{"20"}, ids(got), "a post at the stored timestamp is already seen")
}

func TestSelectDedupesAndHandlesMissingTimestamps(t *testing.T) {
	noTime := normalize.Candidate{ID: "99", Account: "alice"}
	dup := cand("alice", "12", 5)
	dup.Text = "second copy"
	cands := []normalize.Candidate{noTime, cand("alice", "12", 2), dup, cand("alice", "9", 1)}

	got := Select(cands, cursor.Cursor{}, 0)
	assert.Equal(t, []string{"12", "9", "99"}, ids(got))
	assert.Empty(t, got[0].Text, "the first occurrence wins")
}

func TestSelectComparesIDsNumerically(t *testing.T) {
	cands := []normalize.Candidate{
		{ID: "9", Account: "a"},
		{ID: "10", Account: "a"},
	}
	got := Select(cands, cursor.Cursor{SinceID: "9"}, 0)
	assert.Equal(t, []string{"10"}, ids(got))
}

func TestApplyBudget(t *testing.T) {
	var cands []normalize.Candidate
	for i, id := range []string{"1", "2", "3"} {
		cands = append(cands, cand("alice", id, i))
		cands = append(cands, cand("bob", "1"+id, i))
		cands = append(cands, cand("carol", "2"+id, i))
	}
	cands = append(cands, cand("mallory", "666", 9))

	out := Apply([]string{"alice", "@Bob", "carol"}, cands, nil, 2, 3)
	assert.Equal(t, []string{"3", "2"}, ids(out.Selected["alice"]))
	assert.Equal(t, []string{"13"}, ids(out.Selected["bob"]), "takes only the remaining budget")
	assert.Equal(t, []string{"carol"}, out.Skipped)
	assert.Equal(t, 1, out.Untracked)
	assert.Equal(t, 3, out.Total())
	assert.Equal(t, []string{"3", "2", "13"}, ids(out.Accepted([]string{"alice", "bob", "carol"})))
}

func TestApplyUsesCursors(t *testing.T) {
	cands := []normalize.Candidate{cand("alice", "10", 0), cand("alice", "11", 1)}
	ts := base
	out := Apply([]string{"alice"}, cands,
		map[string]cursor.Cursor{"alice": {SinceID: "10", SinceTimestamp: &ts}}, 40, 400)
	assert.Equal(t, []string{"11"}, ids(out.Selected["alice"]))
	assert.Empty(t, out.Skipped)
}

func TestBudget(t *testing.T) {
	b := NewBudget(5)
	assert.Equal(t, 3, b.Limit(3))
	b.Spend(3)
	assert.Equal(t, 2, b.Limit(3))
	assert.Equal(t, 2, b.Limit(0))
	b.Spend(4)
	assert.True(t, b.Exhausted())
	assert.Zero(t, b.Remaining())
}
