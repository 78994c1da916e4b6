// Copyright (C) 2025 Coastline AI (oss@coastlineai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/coastlineai/skiff/services/extract"
	"github.com/coastlineai/skiff/services/gateway/datatypes"
	"github.com/coastlineai/skiff/services/gateway/middleware"
	"github.com/coastlineai/skiff/services/gateway/observability"
	"github.com/coastlineai/skiff/services/gateway/session"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// uploadFormField is the multipart field name carrying the files.
	uploadFormField = "files"

	// maxUploadBytes caps the size of a single uploaded file.
	maxUploadBytes = 32 << 20 // 32 MiB
)

// =============================================================================
// Handler
// =============================================================================

// UploadHandler serves the multipart upload endpoint.
type UploadHandler interface {
	// HandleUpload normalizes a batch of files and stages the results
	// on the session.
	HandleUpload(c *gin.Context)
}

type uploadHandler struct {
	resizeTo *extract.ResizeSpec
	tracer   trace.Tracer
}

var _ UploadHandler = (*uploadHandler)(nil)

// NewUploadHandler creates an UploadHandler.
//
// # Description
//
// Constructs the handler serving POST /v1/sessions/:sessionId/uploads.
// Documents are extracted to text and merged into the pending text
// attachment; images are base64-encoded (optionally resized) and
// replace any pending attachment.
//
// # Inputs
//
//   - resizeTo: Optional bounding box for uploaded images. Nil keeps
//     original dimensions.
//
// # Outputs
//
//   - UploadHandler: The configured handler.
func NewUploadHandler(resizeTo *extract.ResizeSpec) UploadHandler {
	return &uploadHandler{
		resizeTo: resizeTo,
		tracer:   otel.Tracer("skiff/gateway/handlers"),
	}
}

// HandleUpload processes a multipart batch of files.
//
// # Description
//
// Each file is classified by its name suffix and handled
// independently: a failure or skip for one file never fails the
// batch. The response reports a per-file outcome (attached,
// duplicate, unsupported, empty, too_large) so the client can surface
// notices.
//
// # Limitations
//
//   - A file name already seen this session is skipped, even if its
//     content differs.
//   - Extraction is fail-soft: unreadable documents come back as
//     empty notices, never errors.
func (h *uploadHandler) HandleUpload(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "HandleUpload")
	defer span.End()

	sess, ok := middleware.GetSession(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session not resolved"})
		return
	}
	span.SetAttributes(attribute.String("session.id", sess.ID()))

	form, err := c.MultipartForm()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid multipart form")
		slog.Error("Failed to parse upload form", "error", err, "sessionId", sess.ID())
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(observability.EndpointUploads, observability.ErrorCodeValidation)
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid multipart form"})
		return
	}
	files := form.File[uploadFormField]
	if len(files) == 0 {
		span.SetStatus(codes.Error, "no files")
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(observability.EndpointUploads, observability.ErrorCodeValidation)
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "no files in form field 'files'"})
		return
	}

	results := make([]datatypes.UploadResult, 0, len(files))
	for _, header := range files {
		result := h.processFile(ctx, sess, header)
		results = append(results, result)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordUpload(result.Kind, string(result.Status))
		}
	}

	span.SetAttributes(attribute.Int("upload.file_count", len(files)))
	span.SetStatus(codes.Ok, "batch processed")
	slog.Info("Upload batch processed", "sessionId", sess.ID(), "files", len(files))
	if m := observability.DefaultMetrics; m != nil {
		m.RecordRequest(observability.EndpointUploads, true)
	}
	c.JSON(http.StatusOK, datatypes.UploadResponse{
		SessionID: sess.ID(),
		Results:   results,
	})
}

// processFile normalizes a single file and stages it on the session.
// All failure modes collapse into a notice on the result; the only
// state mutated on success is the session's pending attachment and its
// uploaded-name set.
func (h *uploadHandler) processFile(
	ctx context.Context,
	sess *session.Session,
	header *multipart.FileHeader,
) datatypes.UploadResult {
	name := header.Filename
	kind, ext := extract.KindForFilename(name)
	result := datatypes.UploadResult{FileName: name, Kind: kind.String()}

	if kind == extract.KindUnsupported {
		result.Status = datatypes.UploadUnsupported
		result.Detail = "unsupported file type " + strings.ToLower(ext)
		return result
	}

	data, err := readUpload(header)
	if errors.Is(err, errUploadTooLarge) {
		slog.Warn("Rejected oversized upload", "file", name, "size", header.Size)
		result.Status = datatypes.UploadTooLarge
		result.Detail = "file exceeds the 32 MiB upload limit"
		return result
	}
	if err != nil {
		slog.Warn("Failed to read uploaded file", "error", err, "file", name)
		result.Status = datatypes.UploadEmpty
		result.Detail = "file could not be read"
		return result
	}

	if kind == extract.KindImage {
		encoded, err := extract.EncodeImage(data, ext, h.resizeTo)
		if err != nil {
			result.Status = datatypes.UploadUnsupported
			result.Detail = "unsupported image type " + ext
			return result
		}
		mediaType, err := extract.MediaTypeForExt(ext)
		if err != nil {
			result.Status = datatypes.UploadUnsupported
			result.Detail = "unsupported image type " + ext
			return result
		}
		if !sess.RecordUploadedFile(name) {
			result.Status = datatypes.UploadDuplicate
			result.Detail = "file already uploaded this session"
			return result
		}
		sess.StageImage(mediaType, encoded, ext)
		result.Status = datatypes.UploadAttached
		return result
	}

	// Document path: pdf, docx, plain text.
	text := extract.ExtractText(ctx, kind, data)
	if text == "" {
		result.Status = datatypes.UploadEmpty
		result.Detail = "no text could be extracted"
		return result
	}
	if !sess.RecordUploadedFile(name) {
		result.Status = datatypes.UploadDuplicate
		result.Detail = "file already uploaded this session"
		return result
	}
	sess.StageText(text, ext)
	result.Status = datatypes.UploadAttached
	return result
}

// errUploadTooLarge reports a file exceeding maxUploadBytes. Handled
// as a per-file notice, never as a batch failure.
var errUploadTooLarge = errors.New("uploaded file exceeds size limit")

// readUpload reads one multipart file, enforcing the size cap. Reads
// one byte past the cap so an oversized file is rejected outright
// instead of being truncated to the limit.
func readUpload(header *multipart.FileHeader) ([]byte, error) {
	f, err := header.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxUploadBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxUploadBytes {
		return nil, errUploadTooLarge
	}
	return data, nil
}
