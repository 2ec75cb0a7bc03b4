// Package memory defines the long-term conversational memory contract:
// privacy-scoped vector storage of message, link, and file chunks.
//
// Records are namespaced by scope (the channel id). The scope is a hard
// isolation boundary: a query against one scope can never observe records
// ingested under another, and a mismatched scope on ingest is rejected
// outright rather than corrected.
//
// Architecture:
//   - Store: vector storage backend (embedded chromem-go in this repo,
//     swappable for a server-backed index in production)
//   - Embedder: text-to-vector conversion (HTTP embedding API in
//     production, the deterministic bag-of-words embedder in tests)
//
// Integration:
//   - ingest: every processed exchange and extracted attachment chunk is
//     stored for future turns
//   - query: each turn retrieves the nearest records in its channel's
//     scope to enrich the assembled prompt
package memory
