// Package extract turns raw message attachments into normalized,
// token-bounded text chunks ready for memory ingestion. The attachment
// variants form a closed set: links, plain-text files, and PDF files, each
// with one extraction path selected by the kind tag.
package extract

import (
	"context"
	"fmt"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/yujiosaka/ChatIQ/core"
	"github.com/yujiosaka/ChatIQ/memory"
	"github.com/yujiosaka/ChatIQ/tokenizer"
)

// Default chunking parameters: chunk size bounds the unit of embedding,
// the overlap preserves context across a chunk boundary.
const (
	DefaultChunkTokens  = 512
	DefaultChunkOverlap = 64
)

// Chunk is one memory-record candidate produced from an attachment.
type Chunk struct {
	Text   string
	Kind   memory.RecordKind
	Origin string
	Index  int
}

// Preview is the fetched summary of a shared link.
type Preview struct {
	Title   string
	Snippet string
}

// Fetcher resolves a shared URL into a title and preview snippet.
type Fetcher interface {
	FetchPreview(ctx context.Context, url string) (Preview, error)
}

// PDFParser extracts plain text from a PDF document.
type PDFParser interface {
	Parse(ctx context.Context, data []byte) (string, error)
}

// Extractor converts attachments into chunks. Extraction failures are
// non-fatal: a failing attachment yields zero chunks and a log line, never
// an error that would sink the turn.
type Extractor struct {
	fetcher     Fetcher
	pdf         PDFParser
	tok         *tokenizer.Tokenizer
	log         *zap.Logger
	chunkTokens int
	overlap     int
}

// Option configures the extractor.
type Option func(*Extractor)

// WithChunking overrides the chunk size and overlap.
func WithChunking(chunkTokens, overlap int) Option {
	return func(e *Extractor) {
		e.chunkTokens = chunkTokens
		e.overlap = overlap
	}
}

// New creates an extractor. fetcher and pdf may be nil, in which case the
// corresponding attachment kinds yield zero chunks.
func New(fetcher Fetcher, pdf PDFParser, tok *tokenizer.Tokenizer, log *zap.Logger, opts ...Option) *Extractor {
	if log == nil {
		log = zap.NewNop()
	}
	e := &Extractor{
		fetcher:     fetcher,
		pdf:         pdf,
		tok:         tok,
		log:         log,
		chunkTokens: DefaultChunkTokens,
		overlap:     DefaultChunkOverlap,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract produces the chunks for one attachment. An unknown kind is a
// caller bug and the only error path.
func (e *Extractor) Extract(ctx context.Context, att core.Attachment) ([]Chunk, error) {
	switch att.Kind {
	case core.AttachmentLink:
		return e.extractLink(ctx, att), nil
	case core.AttachmentPlainText:
		return e.extractPlainText(att), nil
	case core.AttachmentPDF:
		return e.extractPDF(ctx, att), nil
	default:
		return nil, fmt.Errorf("unsupported attachment kind: %q", att.Kind)
	}
}

func (e *Extractor) extractLink(ctx context.Context, att core.Attachment) []Chunk {
	if e.fetcher == nil || att.URL == "" {
		return nil
	}
	preview, err := e.fetcher.FetchPreview(ctx, att.URL)
	if err != nil {
		e.log.Warn("link preview fetch failed",
			zap.String("url", att.URL),
			zap.String("attachment", att.ID),
			zap.Error(err))
		return nil
	}
	text := preview.Title
	if preview.Snippet != "" {
		text += "\n" + preview.Snippet
	}
	if text == "" {
		return nil
	}
	return e.chunk(text+"\n"+att.URL, memory.KindLink, att.ID)
}

func (e *Extractor) extractPlainText(att core.Attachment) []Chunk {
	if !PlainTextFiletype(att.Filetype) {
		e.log.Debug("skipping unsupported filetype",
			zap.String("filetype", att.Filetype),
			zap.String("attachment", att.ID))
		return nil
	}
	if !utf8.Valid(att.Data) {
		e.log.Warn("skipping file with invalid encoding", zap.String("attachment", att.ID))
		return nil
	}
	return e.chunk(string(att.Data), memory.KindFile, att.ID)
}

func (e *Extractor) extractPDF(ctx context.Context, att core.Attachment) []Chunk {
	if e.pdf == nil {
		return nil
	}
	text, err := e.pdf.Parse(ctx, att.Data)
	if err != nil {
		e.log.Warn("pdf parse failed",
			zap.String("attachment", att.ID),
			zap.String("filename", att.Filename),
			zap.Error(err))
		return nil
	}
	return e.chunk(text, memory.KindFile, att.ID)
}

func (e *Extractor) chunk(text string, kind memory.RecordKind, origin string) []Chunk {
	parts := e.tok.Split(text, e.chunkTokens, e.overlap)
	chunks := make([]Chunk, 0, len(parts))
	for i, part := range parts {
		chunks = append(chunks, Chunk{
			Text:   part,
			Kind:   kind,
			Origin: origin,
			Index:  i,
		})
	}
	return chunks
}
