// Package provider talks to the external scrape service.
//
// A run is submitted, polled at a fixed interval until it reaches a terminal
// state, and its dataset is downloaded as raw JSON items. Collect bounds the
// whole exchange; when the deadline passes it returns an error matching
// errors.ErrProviderTimeout so callers can leave their cursors untouched.
//
// HTTPProvider speaks the Apify v2 API. SampleProvider replays a local file
// for offline runs and tests.
package provider
