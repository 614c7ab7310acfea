// Package report renders the markdown digest.
//
// Render is a pure function of its Input: the same posts, label and
// summaries always give byte-identical output, which keeps re-runs over an
// unchanged window stable.
package report
