package report

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/theoren0108/TweetDigest/pkg/models"
)

var stopwords = map[string]bool{
	"the": true, "and": true, "of": true, "a": true, "to": true, "in": true,
	"for": true, "on": true, "is": true, "are": true, "it": true, "this": true,
	"that": true, "with": true, "at": true, "we": true, "you": true, "i": true,
	"our": true, "by": true, "from": true, "as": true, "be": true, "an": true,
	"or": true, "was": true, "were": true, "has": true, "have": true,
}

// Tokenize lowercases text and returns its keyword candidates. Stopwords and
// tokens of two runes or fewer are dropped.
func Tokenize(text string, foldPlurals bool) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_')
	})

	tokens := fields[:0]
	for _, f := range fields {
		if stopwords[f] || utf8.RuneCountInString(f) <= 2 {
			continue
		}
		if foldPlurals {
			f = foldPlural(f)
		}
		tokens = append(tokens, f)
	}
	return tokens
}

// foldPlural maps simple English plurals to their singular so that
// "rockets" and "rocket" count together
func foldPlural(token string) string {
	var folded string
	switch {
	case strings.HasSuffix(token, "ies"):
		folded = strings.TrimSuffix(token, "ies") + "y"
	case strings.HasSuffix(token, "ss"), strings.HasSuffix(token, "us"), strings.HasSuffix(token, "is"):
		return token
	case strings.HasSuffix(token, "s"):
		folded = strings.TrimSuffix(token, "s")
	default:
		return token
	}
	if utf8.RuneCountInString(folded) <= 2 {
		return token
	}
	return folded
}

// TopKeywords returns the n most frequent tokens across posts. Ties keep the
// order in which tokens were first seen.
func TopKeywords(posts []models.Post, n int, foldPlurals bool) []string {
	counts := make(map[string]int)
	var order []string
	for _, p := range posts {
		for _, tok := range Tokenize(p.Text, foldPlurals) {
			if counts[tok] == 0 {
				order = append(order, tok)
			}
			counts[tok]++
		}
	}

	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})
	if n > 0 && len(order) > n {
		order = order[:n]
	}
	return order
}
