// Package pdftext extracts plain text from PDF bytes.
package pdftext

import (
	"bytes"
	"fmt"
	"io"

	"github.com/ledongthuc/pdf"
	"go.uber.org/zap"

	"github.com/SaptorsheeNag/us-policywatch-sub001/internal/canonical"
)

// pdfMagic prefixes every PDF file.
var pdfMagic = []byte("%PDF-")

// Extractor implements ingest.TextExtractor. It is best-effort: any failure,
// including a panic inside the parser on malformed input, yields "".
type Extractor struct {
	maxBytes int64
	logger   *zap.Logger
}

// New builds an extractor that refuses documents larger than maxBytes (0 = unlimited).
func New(maxBytes int64, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{maxBytes: maxBytes, logger: logger}
}

// ExtractText returns the document's plain text.
func (e *Extractor) ExtractText(data []byte) string {
	if !IsPDF(data) {
		return ""
	}
	if e.maxBytes > 0 && int64(len(data)) > e.maxBytes {
		e.logger.Debug("pdf exceeds size limit", zap.Int("bytes", len(data)))
		return ""
	}
	text, err := e.extract(data)
	if err != nil {
		e.logger.Debug("pdf text extraction failed", zap.Error(err))
		return ""
	}
	return canonical.CleanBody(text)
}

func (e *Extractor) extract(data []byte) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdf parser panic: %v", r)
		}
	}()
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	plain, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, plain); err != nil {
		return "", fmt.Errorf("copy pdf text: %w", err)
	}
	return buf.String(), nil
}

// IsPDF sniffs the PDF magic header, tolerating leading whitespace.
func IsPDF(data []byte) bool {
	return bytes.HasPrefix(bytes.TrimLeft(data, " \t\r\n"), pdfMagic)
}
