// Package chromem implements the memory.Store contract on chromem-go,
// a pure Go embedded vector database. Each scope (channel) gets its own
// collection, which makes the privacy partition a physical boundary rather
// than a query filter.
package chromem

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yujiosaka/ChatIQ/core"
	"github.com/yujiosaka/ChatIQ/memory"
	"github.com/yujiosaka/ChatIQ/observ"
)

// SimilarityEpsilon is the window within which two similarity scores are
// considered tied; ties resolve to the more recent record.
const SimilarityEpsilon = 0.01

// recordNamespace seeds deterministic ids so re-ingesting the same
// (scope, origin, chunk) lands on the same document.
var recordNamespace = uuid.MustParse("7f9c24e5-2f31-4ab0-9aad-66b9c268cd49")

// Store wraps chromem-go behind the memory.Store contract.
type Store struct {
	db       *chromem.DB
	embedder memory.Embedder
	log      *zap.Logger
	epsilon  float32

	// ingestMu serializes ingestion per scope; a retried ingest must not
	// race itself into duplicate chunks. Queries take no lock.
	mu       sync.Mutex
	ingestMu map[string]*sync.Mutex
}

// Option configures the store.
type Option func(*Store)

// WithEpsilon overrides the similarity tie window.
func WithEpsilon(eps float32) Option {
	return func(s *Store) {
		s.epsilon = eps
	}
}

// New creates a store backed by an in-memory chromem database. When path
// is non-empty the database persists to disk and survives restarts.
func New(path string, embedder memory.Embedder, log *zap.Logger, opts ...Option) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}

	var db *chromem.DB
	if path == "" {
		db = chromem.NewDB()
	} else {
		var err error
		db, err = chromem.NewPersistentDB(path, false)
		if err != nil {
			return nil, fmt.Errorf("open persistent db: %w", err)
		}
	}

	s := &Store{
		db:       db,
		embedder: embedder,
		log:      log,
		epsilon:  SimilarityEpsilon,
		ingestMu: make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func collectionName(scope string) string {
	return "scope_" + scope
}

func (s *Store) scopeLock(scope string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	if mu, ok := s.ingestMu[scope]; ok {
		return mu
	}
	mu := &sync.Mutex{}
	s.ingestMu[scope] = mu
	return mu
}

// Ingest persists one record under scope. See memory.Store for semantics.
func (s *Store) Ingest(ctx context.Context, scope string, rec memory.Record) (string, error) {
	start := time.Now()
	defer func() {
		observ.StoreOpDuration.WithLabelValues("ingest").Observe(time.Since(start).Seconds())
	}()

	if scope == "" || (rec.Scope != "" && rec.Scope != scope) {
		return "", fmt.Errorf("%w: ingest scope %q, record scope %q", core.ErrScopeViolation, scope, rec.Scope)
	}

	id := rec.ID
	if id == "" {
		if rec.Origin != "" {
			id = uuid.NewSHA1(recordNamespace, []byte(fmt.Sprintf("%s|%s|%d", scope, rec.Origin, rec.Chunk))).String()
		} else {
			id = uuid.New().String()
		}
	}

	embedding := rec.Embedding
	if embedding == nil {
		var err error
		embedding, err = s.embedder.Embed(ctx, rec.Text)
		if err != nil {
			return "", fmt.Errorf("%w: embed record: %v", core.ErrStoreUnavailable, err)
		}
	}

	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	lock := s.scopeLock(scope)
	lock.Lock()
	defer lock.Unlock()

	col, err := s.db.GetOrCreateCollection(collectionName(scope), nil, nil)
	if err != nil {
		return "", fmt.Errorf("%w: get collection: %v", core.ErrStoreUnavailable, err)
	}

	doc := chromem.Document{
		ID:        id,
		Content:   rec.Text,
		Embedding: embedding,
		Metadata: map[string]string{
			"scope":      scope,
			"kind":       string(rec.Kind),
			"origin":     rec.Origin,
			"chunk":      fmt.Sprintf("%d", rec.Chunk),
			"created_at": createdAt.Format(time.RFC3339Nano),
		},
	}
	if err := col.AddDocument(ctx, doc); err != nil {
		return "", fmt.Errorf("%w: add document: %v", core.ErrStoreUnavailable, err)
	}

	observ.RecordsIngested.WithLabelValues(string(rec.Kind)).Inc()
	s.log.Debug("ingested memory record",
		zap.String("scope", scope),
		zap.String("id", id),
		zap.String("kind", string(rec.Kind)),
		zap.String("origin", rec.Origin))
	return id, nil
}

// Query returns up to k nearest records within scope. See memory.Store.
func (s *Store) Query(ctx context.Context, text, scope string, k int) ([]memory.Record, bool, error) {
	start := time.Now()
	defer func() {
		observ.StoreOpDuration.WithLabelValues("query").Observe(time.Since(start).Seconds())
	}()

	if scope == "" {
		return nil, false, fmt.Errorf("%w: query without scope", core.ErrScopeViolation)
	}
	if k <= 0 {
		return nil, false, nil
	}

	embedding, err := s.embedder.Embed(ctx, text)
	if err != nil {
		s.log.Warn("query degraded: embedder unreachable", zap.String("scope", scope), zap.Error(err))
		observ.DegradedQueries.Inc()
		return nil, true, nil
	}

	col := s.db.GetCollection(collectionName(scope), nil)
	if col == nil {
		// Scope has never been written to; an empty scope is not an error.
		return nil, false, nil
	}

	// chromem rejects nResults beyond the collection size.
	if count := col.Count(); count < k {
		k = count
	}
	if k == 0 {
		return nil, false, nil
	}

	results, err := col.QueryEmbedding(ctx, embedding, k, map[string]string{"scope": scope}, nil)
	if err != nil {
		s.log.Warn("query degraded: backend failure", zap.String("scope", scope), zap.Error(err))
		observ.DegradedQueries.Inc()
		return nil, true, nil
	}

	records := make([]memory.Record, 0, len(results))
	for _, result := range results {
		rec, err := recordFromResult(result)
		if err != nil {
			s.log.Warn("skipping malformed stored record", zap.String("id", result.ID), zap.Error(err))
			continue
		}
		records = append(records, rec)
	}

	// Descending similarity; ties within epsilon break by recency.
	eps := s.epsilon
	sort.SliceStable(records, func(i, j int) bool {
		di := records[i].Similarity - records[j].Similarity
		if di > eps {
			return true
		}
		if di < -eps {
			return false
		}
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})

	return records, false, nil
}

// DeleteScope cascade-removes the scope's collection. Idempotent.
func (s *Store) DeleteScope(ctx context.Context, scope string) error {
	start := time.Now()
	defer func() {
		observ.StoreOpDuration.WithLabelValues("delete_scope").Observe(time.Since(start).Seconds())
	}()

	if scope == "" {
		return fmt.Errorf("%w: delete without scope", core.ErrScopeViolation)
	}
	if err := s.db.DeleteCollection(collectionName(scope)); err != nil {
		return fmt.Errorf("%w: delete collection: %v", core.ErrStoreUnavailable, err)
	}
	s.log.Info("deleted memory scope", zap.String("scope", scope))
	return nil
}

// DeleteOrigin removes every record referencing origin, across scopes.
// Idempotent; an origin that was never ingested is a no-op.
func (s *Store) DeleteOrigin(ctx context.Context, origin string) error {
	start := time.Now()
	defer func() {
		observ.StoreOpDuration.WithLabelValues("delete_origin").Observe(time.Since(start).Seconds())
	}()

	if origin == "" {
		return nil
	}
	for _, col := range s.db.ListCollections() {
		if err := col.Delete(ctx, map[string]string{"origin": origin}, nil); err != nil {
			return fmt.Errorf("%w: delete origin: %v", core.ErrStoreUnavailable, err)
		}
	}
	s.log.Debug("deleted memory origin", zap.String("origin", origin))
	return nil
}

// Healthy reports whether the embedded database is usable.
func (s *Store) Healthy(ctx context.Context) bool {
	return s.db != nil
}

// Close releases resources. The embedded database holds everything in
// process memory (or flushed to disk already), so there is nothing to
// tear down.
func (s *Store) Close() error {
	return nil
}

func recordFromResult(result chromem.Result) (memory.Record, error) {
	createdAt, err := time.Parse(time.RFC3339Nano, result.Metadata["created_at"])
	if err != nil {
		return memory.Record{}, fmt.Errorf("parse created_at: %w", err)
	}
	var chunk int
	fmt.Sscanf(result.Metadata["chunk"], "%d", &chunk)

	return memory.Record{
		ID:         result.ID,
		Scope:      result.Metadata["scope"],
		Kind:       memory.RecordKind(result.Metadata["kind"]),
		Text:       result.Content,
		Embedding:  result.Embedding,
		CreatedAt:  createdAt,
		Origin:     result.Metadata["origin"],
		Chunk:      chunk,
		Similarity: result.Similarity,
	}, nil
}
