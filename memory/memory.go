package memory

import (
	"context"
	"time"
)

// RecordKind marks where a record's text came from.
type RecordKind string

const (
	KindMessage RecordKind = "message"
	KindLink    RecordKind = "link"
	KindFile    RecordKind = "file"
)

// Record is one stored chunk of conversational memory. Records are
// immutable once stored; they leave the index only through the cascade
// deletes below.
type Record struct {
	// ID is assigned at ingest when empty.
	ID string

	// Scope is the privacy partition (channel id) the record belongs to.
	Scope string

	// Kind is the source variant the text was extracted from.
	Kind RecordKind

	// Text is the chunk content that was embedded.
	Text string

	// Embedding is the chunk vector. Ingest computes it when nil.
	Embedding []float32

	// CreatedAt orders records for recency tie-breaking.
	CreatedAt time.Time

	// Origin references the source message or file the chunk came from.
	// Re-ingesting the same (scope, origin, chunk) is a no-op.
	Origin string

	// Chunk is the chunk index within the origin, zero-based.
	Chunk int

	// Similarity is populated on query results only.
	Similarity float32
}

// Store is the vector storage backend.
//
// Implementations must serialize ingestion per scope so a retried ingest
// cannot race itself into duplicate chunks, while queries remain
// unsynchronized reads.
type Store interface {
	// Ingest persists a record under scope, assigning an id if the record
	// carries none and embedding the text if no vector was supplied.
	// Idempotent per (scope, origin, chunk): a second ingest returns the
	// existing id. A record whose Scope differs from scope fails with
	// core.ErrScopeViolation; an unreachable backend fails with
	// core.ErrStoreUnavailable.
	Ingest(ctx context.Context, scope string, rec Record) (string, error)

	// Query embeds text and returns up to k nearest records within scope,
	// ordered by descending similarity with similarity ties (within a
	// fixed epsilon) broken by descending recency. A scope with no
	// records yields an empty slice and no error. When the backend is
	// unreachable the degraded return is true and the slice empty; the
	// caller proceeds with live-thread context only.
	Query(ctx context.Context, text, scope string, k int) (records []Record, degraded bool, err error)

	// DeleteScope cascade-removes every record in scope. Idempotent.
	DeleteScope(ctx context.Context, scope string) error

	// DeleteOrigin removes the record(s) tied to one deleted source
	// message or file. Idempotent.
	DeleteOrigin(ctx context.Context, origin string) error

	// Healthy reports backend reachability for the health probe.
	Healthy(ctx context.Context) bool

	// Close releases resources.
	Close() error
}

// Embedder converts text to vector embeddings.
type Embedder interface {
	// Embed converts a single text to an embedding vector.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the embedding vector size.
	Dimensions() int
}
