// Copyright (C) 2025 Coastline AI (oss@coastlineai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package extract

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindForFilename_Dispatch(t *testing.T) {
	cases := []struct {
		name string
		kind FileKind
		ext  string
	}{
		{"report.pdf", KindPDF, "pdf"},
		{"notes.docx", KindDOCX, "docx"},
		{"readme.txt", KindText, "txt"},
		{"photo.jpg", KindImage, "jpg"},
		{"photo.JPEG", KindImage, "jpeg"},
		{"anim.gif", KindImage, "gif"},
		{"pic.webP", KindImage, "webp"},
		{"archive.zip", KindUnsupported, "zip"},
		{"noext", KindUnsupported, ""},
	}
	for _, tc := range cases {
		kind, ext := KindForFilename(tc.name)
		assert.Equal(t, tc.kind, kind, tc.name)
		assert.Equal(t, tc.ext, ext, tc.name)
	}
}

func TestFileKind_IsDocument(t *testing.T) {
	assert.True(t, KindPDF.IsDocument())
	assert.True(t, KindDOCX.IsDocument())
	assert.True(t, KindText.IsDocument())
	assert.False(t, KindImage.IsDocument())
	assert.False(t, KindUnsupported.IsDocument())
}

func TestExtractText_PlainTextUnchanged(t *testing.T) {
	got := ExtractText(context.Background(), KindText, []byte("Q1 revenue was $5M."))
	assert.Equal(t, "Q1 revenue was $5M.", got)
}

func TestExtractText_MalformedDOCXDegradesToEmpty(t *testing.T) {
	got := ExtractText(context.Background(), KindDOCX, []byte("not a zip archive"))
	assert.Equal(t, "", got)
}

func TestExtractText_MalformedPDFDegradesToEmpty(t *testing.T) {
	got := ExtractText(context.Background(), KindPDF, []byte("%PDF-garbage"))
	assert.Equal(t, "", got)
}

func TestExtractText_NonDocumentKind(t *testing.T) {
	got := ExtractText(context.Background(), KindImage, []byte{0x89, 0x50})
	assert.Equal(t, "", got)
}
