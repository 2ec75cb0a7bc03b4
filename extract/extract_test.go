package extract

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/yujiosaka/ChatIQ/core"
	"github.com/yujiosaka/ChatIQ/memory"
	"github.com/yujiosaka/ChatIQ/tokenizer"
)

type stubFetcher struct {
	preview Preview
	err     error
}

func (s stubFetcher) FetchPreview(ctx context.Context, url string) (Preview, error) {
	return s.preview, s.err
}

type stubPDF struct {
	text string
	err  error
}

func (s stubPDF) Parse(ctx context.Context, data []byte) (string, error) {
	return s.text, s.err
}

func newTestExtractor(t *testing.T, fetcher Fetcher, pdf PDFParser, opts ...Option) *Extractor {
	t.Helper()
	tok, err := tokenizer.New(tokenizer.DefaultEncoding)
	if err != nil {
		t.Fatalf("tokenizer.New: %v", err)
	}
	return New(fetcher, pdf, tok, nil, opts...)
}

func TestExtractLink(t *testing.T) {
	e := newTestExtractor(t, stubFetcher{preview: Preview{Title: "Runbook index", Snippet: "All operational runbooks"}}, nil)

	chunks, err := e.Extract(context.Background(), core.Attachment{
		ID:   "att1",
		Kind: core.AttachmentLink,
		URL:  "https://wiki.example.com/runbooks",
	})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	c := chunks[0]
	if c.Kind != memory.KindLink {
		t.Errorf("chunk kind = %q, want link", c.Kind)
	}
	if c.Origin != "att1" {
		t.Errorf("chunk origin = %q, want att1", c.Origin)
	}
	if !strings.Contains(c.Text, "Runbook index") || !strings.Contains(c.Text, "https://wiki.example.com/runbooks") {
		t.Errorf("chunk text missing preview or url: %q", c.Text)
	}
}

func TestExtractLinkFetchFailureIsNonFatal(t *testing.T) {
	e := newTestExtractor(t, stubFetcher{err: errors.New("timeout")}, nil)

	chunks, err := e.Extract(context.Background(), core.Attachment{
		ID:   "att1",
		Kind: core.AttachmentLink,
		URL:  "https://slow.example.com",
	})
	if err != nil {
		t.Fatalf("fetch failure must not surface an error: %v", err)
	}
	if len(chunks) != 0 {
		t.Errorf("got %d chunks, want 0", len(chunks))
	}
}

func TestExtractPlainText(t *testing.T) {
	e := newTestExtractor(t, nil, nil)

	chunks, err := e.Extract(context.Background(), core.Attachment{
		ID:       "f1",
		Kind:     core.AttachmentPlainText,
		Filetype: "markdown",
		Data:     []byte("# Deploy\nThe deploy runbook is at runbooks/deploy.md"),
	})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	if chunks[0].Kind != memory.KindFile {
		t.Errorf("chunk kind = %q, want file", chunks[0].Kind)
	}
}

func TestExtractPlainTextUnsupportedFiletype(t *testing.T) {
	e := newTestExtractor(t, nil, nil)

	chunks, err := e.Extract(context.Background(), core.Attachment{
		ID:       "f1",
		Kind:     core.AttachmentPlainText,
		Filetype: "png",
		Data:     []byte{0x89, 0x50},
	})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(chunks) != 0 {
		t.Errorf("got %d chunks for unsupported filetype, want 0", len(chunks))
	}
}

func TestExtractChunksLongFilesWithOverlap(t *testing.T) {
	e := newTestExtractor(t, nil, nil, WithChunking(50, 10))

	long := strings.Repeat("incident response procedures for the payments service ", 100)
	chunks, err := e.Extract(context.Background(), core.Attachment{
		ID:       "f1",
		Kind:     core.AttachmentPlainText,
		Filetype: "text",
		Data:     []byte(long),
	})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("got %d chunks, want several", len(chunks))
	}
	for i, c := range chunks {
		if c.Index != i {
			t.Errorf("chunk %d has index %d", i, c.Index)
		}
		if c.Origin != "f1" {
			t.Errorf("chunk %d origin = %q, want f1", i, c.Origin)
		}
	}
}

func TestExtractPDF(t *testing.T) {
	e := newTestExtractor(t, nil, stubPDF{text: "Quarterly figures: revenue up 12%"})

	chunks, err := e.Extract(context.Background(), core.Attachment{
		ID:   "f2",
		Kind: core.AttachmentPDF,
		Data: []byte("%PDF-1.4 ..."),
	})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	if !strings.Contains(chunks[0].Text, "Quarterly figures") {
		t.Errorf("chunk text = %q", chunks[0].Text)
	}
}

func TestExtractPDFParseFailureIsNonFatal(t *testing.T) {
	e := newTestExtractor(t, nil, stubPDF{err: errors.New("corrupt xref")})

	chunks, err := e.Extract(context.Background(), core.Attachment{
		ID:   "f2",
		Kind: core.AttachmentPDF,
		Data: []byte("not a pdf"),
	})
	if err != nil {
		t.Fatalf("parse failure must not surface an error: %v", err)
	}
	if len(chunks) != 0 {
		t.Errorf("got %d chunks, want 0", len(chunks))
	}
}

func TestExtractUnknownKind(t *testing.T) {
	e := newTestExtractor(t, nil, nil)

	if _, err := e.Extract(context.Background(), core.Attachment{Kind: "video"}); err == nil {
		t.Error("unknown attachment kind should error")
	}
}
