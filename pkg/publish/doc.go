// Package publish delivers rendered digests to Feishu.
//
// A publish creates a docx document (optionally in a folder), grants the
// target chat view access, converts the markdown to document blocks, appends
// them in batches, opens a tenant-readable share link and announces the link
// in the chat. Each Feishu value owns a Session with the tenant access token;
// the token is refreshed when it nears expiry or when the API rejects it.
package publish
