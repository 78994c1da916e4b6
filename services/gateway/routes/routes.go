// Copyright (C) 2025 Coastline AI (oss@coastlineai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package routes wires the gateway's HTTP surface.
package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/coastlineai/skiff/services/extract"
	"github.com/coastlineai/skiff/services/gateway/conversation"
	"github.com/coastlineai/skiff/services/gateway/gate"
	"github.com/coastlineai/skiff/services/gateway/handlers"
	"github.com/coastlineai/skiff/services/gateway/middleware"
	"github.com/coastlineai/skiff/services/gateway/session"
)

// Deps carries the constructed services the routes close over.
type Deps struct {
	Store       *session.Store
	Gate        *gate.Gate
	Coordinator *conversation.Coordinator

	// ImageResize, when non-nil, bounds uploaded image dimensions
	// before encoding.
	ImageResize *extract.ResizeSpec
}

// SetupRoutes registers the full gateway surface on router.
//
// Session creation and login are open; everything session-scoped goes
// through SessionResolve, and conversational endpoints additionally
// require a session that has passed the access gate.
func SetupRoutes(router *gin.Engine, deps Deps) {
	loginHandler := handlers.NewLoginHandler(deps.Gate, deps.Store)
	sessionHandler := handlers.NewSessionHandler(deps.Store)
	uploadHandler := handlers.NewUploadHandler(deps.ImageResize)
	chatHandler := handlers.NewChatHandler(deps.Coordinator)

	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	{
		v1.POST("/login", loginHandler.HandleLogin)
		v1.POST("/sessions", sessionHandler.HandleCreate)

		scoped := v1.Group("/sessions/:sessionId", middleware.SessionResolve(deps.Store))
		{
			scoped.DELETE("", sessionHandler.HandleDelete)

			authed := scoped.Group("", middleware.RequireAuthenticated())
			{
				authed.POST("/reset", sessionHandler.HandleReset)
				authed.GET("/history", sessionHandler.HandleHistory)
				authed.GET("/files", sessionHandler.HandleFiles)
				authed.PUT("/instruction", sessionHandler.HandleSetInstruction)
				authed.POST("/uploads", uploadHandler.HandleUpload)
				authed.POST("/chat", chatHandler.HandleChat)
				authed.POST("/chat/stream", chatHandler.HandleChatStream)
			}
		}
	}
}
