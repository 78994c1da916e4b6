// Copyright (C) 2025 Coastline AI (oss@coastlineai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package extract

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/disintegration/imaging"
)

// ErrUnsupportedImageType is returned when a declared image type is
// not one of jpeg, jpg, png, gif, webp (compared case-insensitively).
var ErrUnsupportedImageType = errors.New("unsupported image type")

// ResizeSpec requests a lossy normalization of the image to a fixed
// footprint before encoding. Aspect ratio is not preserved. Encoding
// never resizes unless a spec is given.
type ResizeSpec struct {
	Width  int
	Height int
}

// MediaTypeForExt maps a declared image file type to its MIME media
// type. The jpg alias normalizes to image/jpeg. Returns
// ErrUnsupportedImageType for anything outside the supported set.
func MediaTypeForExt(ext string) (string, error) {
	switch strings.ToLower(ext) {
	case "jpg", "jpeg":
		return "image/jpeg", nil
	case "png":
		return "image/png", nil
	case "gif":
		return "image/gif", nil
	case "webp":
		return "image/webp", nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedImageType, ext)
	}
}

// EncodeImage produces the base64 payload for an image upload.
//
// Without a ResizeSpec the original bytes are encoded as-is. With one,
// the image is decoded, resampled to the requested footprint, and
// re-encoded in its original format before base64 encoding. A resize
// that cannot be performed (undecodable bytes, or a format the
// resampler cannot write back, such as webp) degrades to the original
// bytes rather than failing the upload.
func EncodeImage(data []byte, ext string, resizeTo *ResizeSpec) (string, error) {
	if _, err := MediaTypeForExt(ext); err != nil {
		return "", err
	}
	if resizeTo != nil {
		if resized, ok := resizeImage(data, ext, *resizeTo); ok {
			data = resized
		}
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

func resizeImage(data []byte, ext string, spec ResizeSpec) ([]byte, bool) {
	format, err := imaging.FormatFromExtension(ext)
	if err != nil {
		slog.Warn("extract: resize skipped, format not writable", "ext", ext)
		return nil, false
	}

	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		slog.Warn("extract: resize skipped, decode failed", "error", err)
		return nil, false
	}

	resized := imaging.Resize(img, spec.Width, spec.Height, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, resized, format); err != nil {
		slog.Warn("extract: resize skipped, re-encode failed", "error", err)
		return nil, false
	}
	return buf.Bytes(), true
}
