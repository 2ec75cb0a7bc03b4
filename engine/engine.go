// Package engine orchestrates one conversational turn end to end: settings
// resolution, prompt assembly, model invocation with bounded retry, response
// posting, and memory ingestion. Turns on the same thread run in arrival
// order; turns on distinct threads overlap freely.
package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/yujiosaka/ChatIQ/assemble"
	"github.com/yujiosaka/ChatIQ/core"
	"github.com/yujiosaka/ChatIQ/extract"
	"github.com/yujiosaka/ChatIQ/memory"
	"github.com/yujiosaka/ChatIQ/observ"
	"github.com/yujiosaka/ChatIQ/settings"
)

// Retry and rate-limit defaults.
const (
	DefaultMaxAttempts    = 3
	DefaultBackoffBase    = time.Second
	DefaultRateLimit      = rate.Limit(1)
	DefaultRateBurst      = 3
	DefaultMaxLimiterWait = 30 * time.Second
)

// ApologyMessage is the only failure text end users ever see. Internal
// error detail stays in the logs.
const ApologyMessage = "I'm sorry, something went wrong."

// Provider invokes the language model with an assembled prompt.
type Provider interface {
	Complete(ctx context.Context, prompt core.AssembledPrompt, s core.Settings) (string, error)
}

// Sink posts a response back to the platform.
type Sink interface {
	Post(ctx context.Context, channel, thread, text string) error
}

// Engine runs turns. Create with New; the zero value is not usable.
type Engine struct {
	resolver  *settings.Resolver
	assembler *assemble.Assembler
	extractor *extract.Extractor
	store     memory.Store
	provider  Provider
	sink      Sink
	log       *zap.Logger

	defaults    core.Settings
	clock       Clock
	limiter     *rate.Limiter
	maxWait     time.Duration
	maxAttempts int
	backoffBase time.Duration

	mu      sync.Mutex
	tails   map[string]chan struct{}
	cancels map[string]map[*context.CancelFunc]struct{}
	threads map[string]*transcript
	wg      sync.WaitGroup
}

// transcript is the per-thread exchange log kept for prompt assembly.
type transcript struct {
	entries []core.Message
	touched time.Time
}

// Transcript bounds: entry count per thread, and how long an idle thread's
// transcript survives before it is pruned.
const (
	maxTranscript = 50
	transcriptTTL = time.Hour
)

// Option configures the engine.
type Option func(*Engine)

// WithClock injects the time source used for retry backoff.
func WithClock(c Clock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithLimiter overrides the token bucket guarding model and sink calls.
func WithLimiter(l *rate.Limiter, maxWait time.Duration) Option {
	return func(e *Engine) {
		e.limiter = l
		e.maxWait = maxWait
	}
}

// WithRetry overrides the model retry budget.
func WithRetry(maxAttempts int, backoffBase time.Duration) Option {
	return func(e *Engine) {
		e.maxAttempts = maxAttempts
		e.backoffBase = backoffBase
	}
}

// WithDefaults sets the workspace default settings that channel
// annotations override.
func WithDefaults(s core.Settings) Option {
	return func(e *Engine) {
		e.defaults = s
	}
}

// New creates an engine.
func New(
	resolver *settings.Resolver,
	assembler *assemble.Assembler,
	extractor *extract.Extractor,
	store memory.Store,
	provider Provider,
	sink Sink,
	log *zap.Logger,
	opts ...Option,
) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	e := &Engine{
		resolver:    resolver,
		assembler:   assembler,
		extractor:   extractor,
		store:       store,
		provider:    provider,
		sink:        sink,
		log:         log,
		defaults:    core.DefaultSettings(),
		clock:       SystemClock(),
		limiter:     rate.NewLimiter(DefaultRateLimit, DefaultRateBurst),
		maxWait:     DefaultMaxLimiterWait,
		maxAttempts: DefaultMaxAttempts,
		backoffBase: DefaultBackoffBase,
		tails:       make(map[string]chan struct{}),
		cancels:     make(map[string]map[*context.CancelFunc]struct{}),
		threads:     make(map[string]*transcript),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// HandleTurn accepts one inbound event and processes it asynchronously.
// Turns sharing a (channel, thread) partition run in arrival order; the
// chain is fixed here, under the lock, so a later mention can never post
// before an earlier one.
func (e *Engine) HandleTurn(event core.Event) {
	key := event.ChannelID + "/" + event.ThreadID

	e.mu.Lock()
	prev := e.tails[key]
	done := make(chan struct{})
	e.tails[key] = done
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer func() {
			close(done)
			e.mu.Lock()
			// Drop the chain entry once the last queued turn finishes,
			// unless a newer turn replaced it already.
			if e.tails[key] == done {
				delete(e.tails, key)
			}
			e.mu.Unlock()
		}()
		if prev != nil {
			<-prev
		}
		e.runTurn(event)
	}()
}

// HandleDeletion handles a channel deletion: in-flight turns for the scope
// are cancelled and abort at their next checkpoint without posting, then
// the scope's records are cascade-removed. Idempotent.
func (e *Engine) HandleDeletion(ctx context.Context, scope string) error {
	e.mu.Lock()
	for cancel := range e.cancels[scope] {
		(*cancel)()
	}
	for key := range e.threads {
		if strings.HasPrefix(key, scope+"/") {
			delete(e.threads, key)
		}
	}
	e.mu.Unlock()

	if err := e.store.DeleteScope(ctx, scope); err != nil {
		return fmt.Errorf("delete scope %s: %w", scope, err)
	}
	e.log.Info("scope deleted", zap.String("scope", scope))
	return nil
}

// HandleOriginDeletion removes the records derived from one deleted source
// message or file. Idempotent.
func (e *Engine) HandleOriginDeletion(ctx context.Context, origin string) error {
	if err := e.store.DeleteOrigin(ctx, origin); err != nil {
		return fmt.Errorf("delete origin %s: %w", origin, err)
	}
	e.log.Info("origin deleted", zap.String("origin", origin))
	return nil
}

// HandleEdit re-ingests an edited message: the records derived from the old
// text are removed by origin, then the new text is stored under the same
// origin. No turn runs and nothing is posted.
func (e *Engine) HandleEdit(ctx context.Context, event core.Event) error {
	origin := messageID(event)
	if err := e.store.DeleteOrigin(ctx, origin); err != nil {
		return fmt.Errorf("delete origin %s: %w", origin, err)
	}
	_, err := e.store.Ingest(ctx, event.ChannelID, memory.Record{
		Scope:     event.ChannelID,
		Kind:      memory.KindMessage,
		Text:      event.Text,
		CreatedAt: event.Timestamp,
		Origin:    origin,
	})
	if err != nil {
		return fmt.Errorf("re-ingest origin %s: %w", origin, err)
	}
	e.log.Info("origin re-ingested", zap.String("origin", origin))
	return nil
}

// Healthy reports whether the memory store is reachable.
func (e *Engine) Healthy(ctx context.Context) bool {
	return e.store.Healthy(ctx)
}

// Wait blocks until all accepted turns have finished. For shutdown.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// runTurn drives the state machine for one event.
func (e *Engine) runTurn(event core.Event) {
	scope := event.ChannelID
	ctx, cancel := context.WithCancel(context.Background())
	e.registerCancel(scope, &cancel)
	defer e.unregisterCancel(scope, &cancel)
	defer cancel()

	start := e.clock.Now()
	state := core.TurnReceived
	log := e.log.With(
		zap.String("channel", event.ChannelID),
		zap.String("thread", event.ThreadID),
	)

	finish := func(terminal core.TurnState) {
		observ.TurnsTotal.WithLabelValues(terminal.String()).Inc()
		observ.TurnDuration.Observe(e.clock.Now().Sub(start).Seconds())
	}
	fail := func(err error) {
		log.Error("turn failed", zap.String("state", state.String()), zap.Error(err))
		if postErr := e.post(ctx, event, ApologyMessage); postErr != nil {
			log.Warn("apology not delivered", zap.Error(postErr))
		}
		finish(core.TurnFailed)
	}
	aborted := func() bool {
		if ctx.Err() != nil {
			log.Info("turn aborted", zap.String("state", state.String()))
			finish(core.TurnFailed)
			return true
		}
		return false
	}

	resolved := e.resolver.Resolve(event.Topic, event.Description, e.defaults)
	state = core.TurnSettingsResolved
	if aborted() {
		return
	}

	key := event.ChannelID + "/" + event.ThreadID
	userMsg := core.Message{
		ID:          messageID(event),
		AuthorID:    event.AuthorID,
		Text:        event.Text,
		Timestamp:   event.Timestamp,
		Attachments: event.Attachments,
	}
	history := event.Thread
	if n := len(history); n > 0 && history[n-1].ID == userMsg.ID {
		history = history[:n-1]
	}
	history = e.mergeTranscript(key, history)
	prompt, err := e.assembler.Assemble(ctx, assemble.Input{
		NewMessage: userMsg,
		Thread:     history,
		Settings:   resolved,
		Scope:      scope,
	})
	if err != nil {
		fail(err)
		return
	}
	state = core.TurnMemoryQueried
	if aborted() {
		return
	}
	state = core.TurnPromptAssembled
	if aborted() {
		return
	}

	text, err := e.invokeModel(ctx, &state, log, prompt, resolved)
	if err != nil {
		if ctx.Err() != nil {
			finish(core.TurnFailed)
			log.Info("turn aborted", zap.String("state", state.String()))
			return
		}
		fail(err)
		return
	}
	state = core.TurnModelInvoked
	if aborted() {
		return
	}

	if err := e.post(ctx, event, text); err != nil {
		if aborted() {
			return
		}
		fail(err)
		return
	}
	state = core.TurnResponsePosted

	reply := core.Message{
		ID:        userMsg.ID + "/reply",
		AuthorID:  "assistant",
		Text:      text,
		Timestamp: e.clock.Now(),
	}
	e.recordExchange(key, userMsg, reply)

	// Ingestion failures never claw back an already-posted response; they
	// are logged and the turn still completes.
	if err := e.ingest(ctx, scope, event, reply); err != nil {
		log.Warn("memory ingestion incomplete", zap.Error(err))
	} else {
		state = core.TurnMemoryIngested
	}

	state = core.TurnDone
	finish(state)
	log.Debug("turn done",
		zap.Int("prompt_tokens", prompt.TokenCount),
		zap.Bool("degraded", prompt.Degraded),
		zap.Duration("elapsed", e.clock.Now().Sub(start)))
}

// invokeModel calls the provider through the rate limiter, retrying
// transient failures with exponential backoff.
func (e *Engine) invokeModel(ctx context.Context, state *core.TurnState, log *zap.Logger, prompt core.AssembledPrompt, s core.Settings) (string, error) {
	for attempt := 1; ; attempt++ {
		if err := e.waitLimiter(ctx); err != nil {
			return "", err
		}
		text, err := e.provider.Complete(ctx, prompt, s)
		if err == nil {
			return text, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if core.Fatal(err) || !core.Retryable(err) {
			return "", err
		}
		if attempt >= e.maxAttempts {
			return "", fmt.Errorf("model retries exhausted after %d attempts: %w", attempt, err)
		}
		*state = core.TurnRetrying
		observ.ModelRetries.Inc()
		backoff := e.backoffBase << (attempt - 1)
		log.Warn("model invocation retrying",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err))
		if err := e.clock.Sleep(ctx, backoff); err != nil {
			return "", err
		}
	}
}

// waitLimiter blocks on the token bucket for at most maxWait; a longer
// wait surfaces as ErrRateLimited.
func (e *Engine) waitLimiter(ctx context.Context) error {
	waitCtx, cancel := context.WithTimeout(ctx, e.maxWait)
	defer cancel()
	if err := e.limiter.Wait(waitCtx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("limiter wait exceeded %s: %w", e.maxWait, core.ErrRateLimited)
	}
	return nil
}

func (e *Engine) post(ctx context.Context, event core.Event, text string) error {
	if err := e.waitLimiter(ctx); err != nil {
		return err
	}
	if err := e.sink.Post(ctx, event.ChannelID, event.ThreadID, text); err != nil {
		return fmt.Errorf("post response: %w", err)
	}
	return nil
}

// ingest stores the exchange (user message and response) and every
// extracted attachment chunk under the channel scope. Extraction failures
// skip the attachment; store failures are returned for the caller to log.
func (e *Engine) ingest(ctx context.Context, scope string, event core.Event, reply core.Message) error {
	records := []memory.Record{
		{
			Scope:     scope,
			Kind:      memory.KindMessage,
			Text:      event.Text,
			CreatedAt: event.Timestamp,
			Origin:    messageID(event),
		},
		{
			Scope:     scope,
			Kind:      memory.KindMessage,
			Text:      reply.Text,
			CreatedAt: reply.Timestamp,
			Origin:    reply.ID,
		},
	}
	for _, att := range event.Attachments {
		chunks, err := e.extractor.Extract(ctx, att)
		if err != nil {
			e.log.Warn("attachment skipped", zap.String("attachment", att.ID), zap.Error(err))
			continue
		}
		for _, c := range chunks {
			records = append(records, memory.Record{
				Scope:     scope,
				Kind:      c.Kind,
				Text:      c.Text,
				CreatedAt: event.Timestamp,
				Origin:    c.Origin,
				Chunk:     c.Index,
			})
		}
	}

	var firstErr error
	for _, rec := range records {
		if _, err := e.store.Ingest(ctx, scope, rec); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// mergeTranscript supplements the platform-delivered thread with exchanges
// this process completed that the platform payload does not carry yet,
// matching by message id. The platform re-delivers our posted reply under
// its own id and author, so an exact text match also counts as delivered.
// The transcript is how a turn sees the response of the turn it queued
// behind.
func (e *Engine) mergeTranscript(key string, history []core.Message) []core.Message {
	e.mu.Lock()
	tr := e.threads[key]
	if tr == nil {
		e.mu.Unlock()
		return history
	}
	tr.touched = e.clock.Now()
	logged := tr.entries
	e.mu.Unlock()

	seenIDs := make(map[string]struct{}, len(history))
	seenTexts := make(map[string]struct{}, len(history))
	for _, m := range history {
		seenIDs[m.ID] = struct{}{}
		seenTexts[m.Text] = struct{}{}
	}
	merged := append([]core.Message{}, history...)
	for _, m := range logged {
		if _, ok := seenIDs[m.ID]; ok {
			continue
		}
		if _, ok := seenTexts[m.Text]; ok {
			continue
		}
		merged = append(merged, m)
	}
	return merged
}

func (e *Engine) recordExchange(key string, userMsg, reply core.Message) {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.clock.Now()
	tr := e.threads[key]
	if tr == nil {
		tr = &transcript{}
		e.threads[key] = tr
	}
	tr.entries = append(tr.entries, userMsg, reply)
	if len(tr.entries) > maxTranscript {
		tr.entries = tr.entries[len(tr.entries)-maxTranscript:]
	}
	tr.touched = now

	// Threads go quiet; their transcripts must not pile up forever. The
	// platform carries the full history itself once it re-delivers, so a
	// stale transcript loses nothing.
	for k, t := range e.threads {
		if now.Sub(t.touched) > transcriptTTL {
			delete(e.threads, k)
		}
	}
}

func (e *Engine) registerCancel(scope string, cancel *context.CancelFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	set, ok := e.cancels[scope]
	if !ok {
		set = make(map[*context.CancelFunc]struct{})
		e.cancels[scope] = set
	}
	set[cancel] = struct{}{}
}

func (e *Engine) unregisterCancel(scope string, cancel *context.CancelFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	set := e.cancels[scope]
	delete(set, cancel)
	if len(set) == 0 {
		delete(e.cancels, scope)
	}
}

// messageID names the triggering message for origin references and for
// matching it against thread entries, which carry platform ids. Events
// without a platform id fall back to a synthesized one; the platform
// timestamp is unique per channel.
func messageID(event core.Event) string {
	if event.MessageID != "" {
		return event.MessageID
	}
	return event.ChannelID + "-" + event.Timestamp.UTC().Format("20060102T150405.000000000")
}
