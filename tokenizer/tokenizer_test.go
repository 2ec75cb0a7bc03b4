package tokenizer

import (
	"strings"
	"testing"
)

func newTestTokenizer(t *testing.T) *Tokenizer {
	t.Helper()
	tok, err := New(DefaultEncoding)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return tok
}

func TestCount(t *testing.T) {
	tok := newTestTokenizer(t)

	if got := tok.Count(""); got != 0 {
		t.Errorf("Count(empty) = %d, want 0", got)
	}
	if got := tok.Count("hello world"); got == 0 {
		t.Error("Count of non-empty text should be positive")
	}

	short := tok.Count("hi")
	long := tok.Count(strings.Repeat("the quick brown fox ", 50))
	if long <= short {
		t.Errorf("longer text should count more tokens: short=%d long=%d", short, long)
	}
}

func TestTruncate(t *testing.T) {
	tok := newTestTokenizer(t)

	text := strings.Repeat("one two three four five ", 100)
	truncated := tok.Truncate(text, 10)
	if !strings.HasSuffix(truncated, "...") {
		t.Error("truncated text should end with ellipsis")
	}
	// The ellipsis suffix may add tokens; the content itself must fit.
	if got := tok.Count(strings.TrimSuffix(truncated, "...")); got > 10 {
		t.Errorf("truncated content counts %d tokens, want <= 10", got)
	}

	// Text already within the limit comes back unchanged.
	if got := tok.Truncate("short", 100); got != "short" {
		t.Errorf("Truncate(short) = %q, want unchanged", got)
	}

	if got := tok.Truncate("anything", 0); got != "" {
		t.Errorf("Truncate with zero budget = %q, want empty", got)
	}
}

func TestSplit(t *testing.T) {
	tok := newTestTokenizer(t)

	// Short text stays one chunk, returned verbatim.
	chunks := tok.Split("a short note", 512, 64)
	if len(chunks) != 1 || chunks[0] != "a short note" {
		t.Errorf("short text should be a single verbatim chunk, got %v", chunks)
	}

	// Long text splits into bounded chunks.
	long := strings.Repeat("deploy runbooks live in the operations repository ", 200)
	chunks = tok.Split(long, 100, 20)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if got := tok.Count(c); got > 100 {
			t.Errorf("chunk %d counts %d tokens, want <= 100", i, got)
		}
	}

	// Consecutive chunks share the overlap region.
	for i := 1; i < len(chunks); i++ {
		tail := chunks[i-1][len(chunks[i-1])/2:]
		if !strings.Contains(long, tail) {
			t.Fatalf("chunk %d tail not found in source", i-1)
		}
	}

	if got := tok.Split("", 100, 10); got != nil {
		t.Errorf("Split(empty) = %v, want nil", got)
	}
}
