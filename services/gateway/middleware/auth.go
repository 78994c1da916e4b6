// Copyright (C) 2025 Coastline AI (oss@coastlineai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package middleware provides gin middleware for the gateway.
package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/coastlineai/skiff/services/gateway/session"
)

// sessionContextKey is the gin context key the resolved session is
// stored under.
const sessionContextKey = "skiff.session"

// SessionResolve resolves the :sessionId route parameter against the
// store and aborts with 404 when unknown. The session is stored on the
// context for handlers (see GetSession).
func SessionResolve(store *session.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("sessionId")
		sess, ok := store.Get(id)
		if !ok {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "unknown session"})
			return
		}
		c.Set(sessionContextKey, sess)
		c.Next()
	}
}

// RequireAuthenticated aborts with 401 unless the resolved session has
// passed the access gate. Must run after SessionResolve.
func RequireAuthenticated() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, ok := GetSession(c)
		if !ok || !sess.Authenticated() {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "login required"})
			return
		}
		c.Next()
	}
}

// GetSession returns the session placed on the context by
// SessionResolve.
func GetSession(c *gin.Context) (*session.Session, bool) {
	v, ok := c.Get(sessionContextKey)
	if !ok {
		return nil, false
	}
	sess, ok := v.(*session.Session)
	return sess, ok
}
