// Package normalize maps heterogeneous provider records onto one candidate
// post shape.
//
// Provider actors disagree on field names, nesting and timestamp formats, so
// every field is resolved through an ordered alias list and the first present
// non-empty value wins. Records without an id or an author are rejected as
// malformed; the caller counts them and carries on with the batch.
package normalize
