// Package storage keeps downloaded media on disk, addressed by content.
//
// Every blob lands at <dir>/<first two hex chars>/<sha256><ext>, so identical
// bytes fetched from different URLs end up as a single file. Writes go through
// a temporary file and an atomic rename, and writers of the same hash are
// serialized by a per-hash lock.
//
// Usage:
//
//	blobs, err := storage.NewManager("data/media", 50<<20)
//	if err != nil {
//	    return err
//	}
//	blob, err := blobs.Put(resp.Body)
//	// blob.Hash, blob.Path
package storage
