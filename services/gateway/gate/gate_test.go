// Copyright (C) 2025 Coastline AI (oss@coastlineai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package gate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RejectsEmptySecret(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)
}

func TestVerify_Match(t *testing.T) {
	g, err := New("correct horse battery staple")
	require.NoError(t, err)

	ok, err := g.Verify("correct horse battery staple")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerify_MismatchReturnsFalseWithoutError(t *testing.T) {
	g, err := New("secret")
	require.NoError(t, err)

	ok, err := g.Verify("wrong")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = g.Verify("")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerify_RateLimited(t *testing.T) {
	g, err := New("secret")
	require.NoError(t, err)

	var sawRateLimit bool
	for i := 0; i < 50; i++ {
		if _, err := g.Verify("wrong"); err != nil {
			assert.ErrorIs(t, err, ErrRateLimited)
			sawRateLimit = true
			break
		}
	}
	assert.True(t, sawRateLimit, "burst of attempts should trip the limiter")
}
