// Copyright (C) 2025 Coastline AI (oss@coastlineai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/coastlineai/skiff/services/gateway/conversation"
)

// HealthCheck reports liveness plus whether the secure memory backend
// is active. A gateway running on the plaintext fallback is still
// healthy; deployments that require mlock can alert on the field.
func HealthCheck(c *gin.Context) {
	secure, limitKB := conversation.MlockStatus()
	c.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"secure_memory":  secure,
		"mlock_limit_kb": limitKB,
	})
}
