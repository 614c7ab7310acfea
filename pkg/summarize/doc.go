// Package summarize produces optional model-written summaries for the digest
// through an OpenAI-compatible chat completions API.
package summarize
