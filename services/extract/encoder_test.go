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
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMediaTypeForExt_Mapping(t *testing.T) {
	cases := map[string]string{
		"jpg":  "image/jpeg",
		"jpeg": "image/jpeg",
		"png":  "image/png",
		"gif":  "image/gif",
		"webp": "image/webp",
		"webP": "image/webp",
		"WEBP": "image/webp",
	}
	for ext, want := range cases {
		got, err := MediaTypeForExt(ext)
		require.NoError(t, err, ext)
		assert.Equal(t, want, got, ext)
	}
}

func TestMediaTypeForExt_Unsupported(t *testing.T) {
	_, err := MediaTypeForExt("bmp")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupportedImageType)
}

func TestEncodeImage_NoResizePassesBytesThrough(t *testing.T) {
	data := []byte{0x01, 0x02, 0x03}
	got, err := EncodeImage(data, "png", nil)
	require.NoError(t, err)
	assert.Equal(t, base64.StdEncoding.EncodeToString(data), got)
}

func TestEncodeImage_UnsupportedType(t *testing.T) {
	_, err := EncodeImage([]byte{0x01}, "tiff", nil)
	assert.ErrorIs(t, err, ErrUnsupportedImageType)
}

func TestEncodeImage_ResizeProducesRequestedFootprint(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 64, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 64; x++ {
			src.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, src))

	encoded, err := EncodeImage(buf.Bytes(), "png", &ResizeSpec{Width: 16, Height: 16})
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)
	img, err := imaging.Decode(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, 16, img.Bounds().Dx())
	assert.Equal(t, 16, img.Bounds().Dy())
}

func TestEncodeImage_ResizeDegradesOnUndecodableBytes(t *testing.T) {
	data := []byte("definitely not an image")
	got, err := EncodeImage(data, "jpg", &ResizeSpec{Width: 8, Height: 8})
	require.NoError(t, err)
	assert.Equal(t, base64.StdEncoding.EncodeToString(data), got)
}

func TestEncodeImage_ResizeDegradesForWebp(t *testing.T) {
	data := []byte{0x52, 0x49, 0x46, 0x46}
	got, err := EncodeImage(data, "webp", &ResizeSpec{Width: 8, Height: 8})
	require.NoError(t, err)
	assert.Equal(t, base64.StdEncoding.EncodeToString(data), got)
}
