// Package tokenizer counts and splits text in model tokens. The same
// encoding backs both the context assembler's budget accounting and the
// extractor's chunking, so a token counted here is a token the model sees.
package tokenizer

import (
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding matches the tokenization of the current chat models.
const DefaultEncoding = "cl100k_base"

// Tokenizer wraps one tiktoken encoding. Safe for concurrent use.
type Tokenizer struct {
	encoding *tiktoken.Tiktoken
}

// New returns a tokenizer for the named encoding.
func New(encoding string) (*Tokenizer, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("get encoding %q: %w", encoding, err)
	}
	return &Tokenizer{encoding: enc}, nil
}

// Count returns the number of tokens in text.
func (t *Tokenizer) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(t.encoding.Encode(text, nil, nil))
}

// Truncate trims text to at most maxTokens tokens, appending "..." when
// anything was dropped.
func (t *Tokenizer) Truncate(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	tokens := t.encoding.Encode(text, nil, nil)
	if len(tokens) <= maxTokens {
		return text
	}
	truncated := t.encoding.Decode(tokens[:maxTokens])
	return strings.TrimSpace(truncated) + "..."
}

// Split cuts text into chunks of at most chunkTokens tokens with overlap
// tokens shared between consecutive chunks. The overlap keeps retrieval
// working across a chunk boundary. An empty input yields no chunks.
func (t *Tokenizer) Split(text string, chunkTokens, overlap int) []string {
	if text == "" || chunkTokens <= 0 {
		return nil
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= chunkTokens {
		overlap = chunkTokens - 1
	}

	tokens := t.encoding.Encode(text, nil, nil)
	if len(tokens) <= chunkTokens {
		return []string{text}
	}

	var chunks []string
	step := chunkTokens - overlap
	for start := 0; start < len(tokens); start += step {
		end := start + chunkTokens
		if end > len(tokens) {
			end = len(tokens)
		}
		chunks = append(chunks, t.encoding.Decode(tokens[start:end]))
		if end == len(tokens) {
			break
		}
	}
	return chunks
}
