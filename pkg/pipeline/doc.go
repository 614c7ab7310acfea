// Package pipeline runs one digest: resolve accounts, fetch from the
// provider, normalize and filter against cursors, resolve media, store,
// advance cursors, then render, write and optionally publish the report.
//
// Every stage gets its own span and a timing log line. A failure before the
// save stage leaves storage, cursors and the report file untouched.
package pipeline
