// Package checkpoint records the outcome of the latest digest run.
//
// The record sits next to the database as JSON and is rewritten atomically at
// the start and end of every run, so `tweetdigest status` can report what the
// last run did even when it crashed midway. WriteFileAtomic is also used for
// the digest file itself.
package checkpoint
