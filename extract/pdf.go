package extract

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/ledongthuc/pdf"
)

// LedongthucParser implements PDFParser with the ledongthuc/pdf reader.
type LedongthucParser struct{}

// NewPDFParser creates the default PDF parser.
func NewPDFParser() *LedongthucParser {
	return &LedongthucParser{}
}

// Parse extracts the plain text of every page.
func (p *LedongthucParser) Parse(ctx context.Context, data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}

	textReader, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extract pdf text: %w", err)
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, textReader); err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}
	return buf.String(), nil
}
