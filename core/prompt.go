package core

// AssembledPrompt is the transient per-turn output of the context
// assembler. It is built once, handed to the model provider, and discarded;
// it is never persisted.
type AssembledPrompt struct {
	// System is the fixed system segment. Always present, never truncated.
	System string

	// Thread holds the included live-thread lines, oldest first, ready for
	// the model. Selection happened newest-first against the budget.
	Thread []string

	// MemorySegments holds the included retrieved-memory lines, most
	// similar first.
	MemorySegments []string

	// RecordIDs are the ids of the included memory records, in the order
	// their segments appear.
	RecordIDs []string

	// TokenCount is the total token footprint. Never exceeds the budget
	// the prompt was assembled under.
	TokenCount int

	// Truncated is set the moment a candidate had to be dropped for
	// budget reasons.
	Truncated bool

	// Degraded is set when memory retrieval was skipped because the store
	// was unreachable; the prompt then carries live-thread context only.
	Degraded bool
}
