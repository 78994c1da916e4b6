// Copyright (C) 2025 Coastline AI (oss@coastlineai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package extract normalizes uploaded files for inclusion in a chat
// turn: documents become plain text, images become base64 payloads
// with a resolved media type.
//
// Document extraction is fail-soft: a malformed file degrades to
// whatever partial text was recovered (possibly empty), is logged, and
// never propagates an error to the caller. Image encoding is strict:
// an unsupported type is a validation error.
package extract

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"strings"

	docx "github.com/fumiama/go-docx"
	"github.com/tmc/langchaingo/documentloaders"
)

// =============================================================================
// File kind resolution
// =============================================================================

// FileKind tags an upload with its handling class, resolved once from
// the file name suffix at the upload boundary.
type FileKind int

const (
	KindUnsupported FileKind = iota
	KindPDF
	KindDOCX
	KindText
	KindImage
)

func (k FileKind) String() string {
	switch k {
	case KindPDF:
		return "pdf"
	case KindDOCX:
		return "docx"
	case KindText:
		return "text"
	case KindImage:
		return "image"
	default:
		return "unsupported"
	}
}

// IsDocument reports whether the kind is handled by text extraction.
func (k FileKind) IsDocument() bool {
	return k == KindPDF || k == KindDOCX || k == KindText
}

// KindForFilename resolves the handling class for a file name.
// Matching is case-insensitive on the suffix. The returned extension
// is lowercased and has no leading dot.
func KindForFilename(name string) (FileKind, string) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	switch ext {
	case "pdf":
		return KindPDF, ext
	case "docx":
		return KindDOCX, ext
	case "txt":
		return KindText, ext
	case "jpg", "jpeg", "png", "gif", "webp":
		return KindImage, ext
	default:
		return KindUnsupported, ext
	}
}

// =============================================================================
// Document extraction
// =============================================================================

// ExtractText converts document bytes into concatenated plain text.
//
// # Description
//
// Dispatches on the resolved FileKind:
//
//   - KindText: the decoded bytes, unchanged.
//   - KindDOCX: all paragraph texts in document order, no separator.
//   - KindPDF: per-page text in page order, no separator.
//
// # Inputs
//
//   - ctx: carries cancellation for the PDF loader.
//   - kind: must be a document kind (see FileKind.IsDocument).
//   - data: raw file bytes.
//
// # Outputs
//
//   - string: best-effort extracted text. Empty means "extraction
//     failed or the file had no text", never a fatal condition.
//
// Parsing failures are logged and absorbed; partial text accumulated
// before the failure is still returned.
func ExtractText(ctx context.Context, kind FileKind, data []byte) string {
	switch kind {
	case KindText:
		return string(data)
	case KindDOCX:
		return extractDOCX(data)
	case KindPDF:
		return extractPDF(ctx, data)
	default:
		slog.Warn("extract: not a document kind", "kind", kind.String())
		return ""
	}
}

func extractDOCX(data []byte) string {
	doc, err := docx.Parse(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		slog.Error("extract: docx parse failed", "error", err)
		return ""
	}

	var b strings.Builder
	for _, item := range doc.Document.Body.Items {
		if para, ok := item.(*docx.Paragraph); ok {
			b.WriteString(para.String())
		}
	}
	return b.String()
}

func extractPDF(ctx context.Context, data []byte) string {
	loader := documentloaders.NewPDF(bytes.NewReader(data), int64(len(data)))
	pages, err := loader.Load(ctx)

	// Load may fail mid-document; keep whatever pages came back.
	var b strings.Builder
	for _, page := range pages {
		b.WriteString(page.PageContent)
	}
	if err != nil {
		slog.Error("extract: pdf extraction failed", "error", err, "pages_recovered", len(pages))
	}
	return b.String()
}
