// Package media extracts media descriptors from provider records and resolves
// them to content-addressed files.
//
// Extraction understands flat media lists, v2 style attachments with an
// includes block, and extended entities. Resolution runs the downloads through
// the worker pool in internal/downloader and stores bytes in pkg/storage, so
// two URLs serving identical bytes share one file.
package media
