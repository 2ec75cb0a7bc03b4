// Package assemble builds the model prompt for one turn: the fixed system
// segment, live thread history, and retrieved memory, packed under a hard
// token budget. Live context outranks retrieved memory; the budget is a
// correctness property, never exceeded.
package assemble

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/yujiosaka/ChatIQ/core"
	"github.com/yujiosaka/ChatIQ/memory"
	"github.com/yujiosaka/ChatIQ/observ"
	"github.com/yujiosaka/ChatIQ/settings"
	"github.com/yujiosaka/ChatIQ/tokenizer"
)

// Defaults. CandidateK is deliberately larger than what a typical budget
// fits, so the budget decides inclusion, not the query.
const (
	DefaultTokenBudget = 3000
	DefaultCandidateK  = 8
)

// Querier is the slice of the memory store the assembler needs.
type Querier interface {
	Query(ctx context.Context, text, scope string, k int) ([]memory.Record, bool, error)
}

// Input carries everything Assemble needs for one turn.
type Input struct {
	// NewMessage is the triggering message. Always included in the thread
	// segment and used as the retrieval query.
	NewMessage core.Message

	// Thread is the live thread history, oldest first, excluding
	// NewMessage.
	Thread []core.Message

	// Settings is the resolved per-conversation configuration.
	Settings core.Settings

	// Scope bounds memory retrieval to the channel's privacy partition.
	Scope string

	// TokenBudget is the hard prompt ceiling. Zero takes the default.
	TokenBudget int
}

// Assembler builds prompts. Pure apart from the single store query; the
// clock is injectable so the rendered time line is testable.
type Assembler struct {
	store  Querier
	tok    *tokenizer.Tokenizer
	log    *zap.Logger
	k      int
	budget int
	now    func() time.Time
}

// Option configures the assembler.
type Option func(*Assembler)

// WithCandidateK overrides the number of memory candidates queried.
func WithCandidateK(k int) Option {
	return func(a *Assembler) {
		a.k = k
	}
}

// WithBudget overrides the default token budget used when the input does
// not carry one.
func WithBudget(budget int) Option {
	return func(a *Assembler) {
		a.budget = budget
	}
}

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(a *Assembler) {
		a.now = now
	}
}

// New creates an assembler.
func New(store Querier, tok *tokenizer.Tokenizer, log *zap.Logger, opts ...Option) *Assembler {
	if log == nil {
		log = zap.NewNop()
	}
	a := &Assembler{
		store:  store,
		tok:    tok,
		log:    log,
		k:      DefaultCandidateK,
		budget: DefaultTokenBudget,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Assemble builds the prompt for one turn.
//
// The system segment is reserved first and never truncated; a budget too
// small to hold it is an error rather than a silent drop. Thread history
// is then packed newest-first, and memory records most-similar-first into
// whatever remains. The first candidate that would cross the budget stops
// inclusion and marks the prompt truncated.
func (a *Assembler) Assemble(ctx context.Context, in Input) (core.AssembledPrompt, error) {
	budget := in.TokenBudget
	if budget <= 0 {
		budget = a.budget
	}

	system := a.systemSegment(in.Settings)
	systemTokens := a.tok.Count(system)
	if systemTokens > budget {
		return core.AssembledPrompt{}, fmt.Errorf(
			"token budget %d cannot hold the system segment (%d tokens)", budget, systemTokens)
	}

	prompt := core.AssembledPrompt{
		System:     system,
		TokenCount: systemTokens,
	}
	remaining := budget - systemTokens

	// Live thread first, walking newest to oldest. The triggering message
	// is the newest entry.
	lines := make([]string, 0, len(in.Thread)+1)
	counts := make([]int, 0, len(in.Thread)+1)
	newest := append(append([]core.Message{}, in.Thread...), in.NewMessage)
	for i := len(newest) - 1; i >= 0; i-- {
		line := formatThreadLine(newest[i])
		n := a.tok.Count(line)
		if n > remaining {
			prompt.Truncated = true
			break
		}
		lines = append(lines, line)
		counts = append(counts, n)
		remaining -= n
	}
	// Selected newest-first; the model reads oldest-first.
	for i := len(lines) - 1; i >= 0; i-- {
		prompt.Thread = append(prompt.Thread, lines[i])
		prompt.TokenCount += counts[i]
	}

	// Retrieved memory fills what remains, most similar first.
	records, degraded, err := a.store.Query(ctx, in.NewMessage.Text, in.Scope, a.k)
	if err != nil {
		return core.AssembledPrompt{}, fmt.Errorf("query memory: %w", err)
	}
	prompt.Degraded = degraded

	if !prompt.Truncated {
		for _, rec := range records {
			segment := formatMemorySegment(rec)
			n := a.tok.Count(segment)
			if n > remaining {
				prompt.Truncated = true
				break
			}
			prompt.MemorySegments = append(prompt.MemorySegments, segment)
			prompt.RecordIDs = append(prompt.RecordIDs, rec.ID)
			prompt.TokenCount += n
			remaining -= n
		}
	}

	observ.PromptTokens.Observe(float64(prompt.TokenCount))
	if prompt.Truncated {
		observ.PromptsTruncated.Inc()
	}
	a.log.Debug("assembled prompt",
		zap.String("scope", in.Scope),
		zap.Int("tokens", prompt.TokenCount),
		zap.Int("thread_lines", len(prompt.Thread)),
		zap.Int("memory_records", len(prompt.RecordIDs)),
		zap.Bool("truncated", prompt.Truncated),
		zap.Bool("degraded", prompt.Degraded))
	return prompt, nil
}

// systemSegment renders the fixed system text with the current time in
// the channel's configured offset.
func (a *Assembler) systemSegment(s core.Settings) string {
	timeLine := ""
	if loc, err := settings.OffsetLocation(s.Timezone); err == nil {
		local := a.now().In(loc)
		if s.Timezone == core.DefaultTimezone {
			timeLine = fmt.Sprintf("Current time is %s.", local.Format(time.RFC3339))
		} else {
			timeLine = fmt.Sprintf("Current local time is %s. Respect the local timezone by default.", local.Format(time.RFC3339))
		}
	}
	if timeLine == "" {
		return s.SystemMessage
	}
	return s.SystemMessage + "\n\n" + timeLine
}

func formatThreadLine(m core.Message) string {
	return fmt.Sprintf("%s: %s", m.AuthorID, m.Text)
}

func formatMemorySegment(rec memory.Record) string {
	return fmt.Sprintf("[%s] %s", rec.Kind, rec.Text)
}
