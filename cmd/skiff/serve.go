// Copyright (C) 2025 Coastline AI (oss@coastlineai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/awnumar/memguard"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/coastlineai/skiff/pkg/logging"
	"github.com/coastlineai/skiff/services/extract"
	"github.com/coastlineai/skiff/services/gateway/conversation"
	"github.com/coastlineai/skiff/services/gateway/gate"
	"github.com/coastlineai/skiff/services/gateway/observability"
	"github.com/coastlineai/skiff/services/gateway/routes"
	"github.com/coastlineai/skiff/services/gateway/session"
	"github.com/coastlineai/skiff/services/llm"
)

const serviceName = "skiff-gateway"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the chat gateway",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func initTracer(ctx context.Context) (func(context.Context), error) {
	conn, err := grpc.NewClient(cfg.Telemetry.OTLPEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String(serviceName)))
	if err != nil {
		return nil, err
	}
	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			logging.Default().Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}

func runServe(ctx context.Context) error {
	logger := logging.New(logging.Config{
		Level:   logging.ParseLevel(cfg.Logging.Level),
		LogDir:  cfg.Logging.Dir,
		Service: "gateway",
	})
	defer logger.Close()
	logger.SetAsDefault()

	// memguard wipes its buffers if the process is killed mid-stream.
	memguard.CatchInterrupt()
	defer conversation.PurgeSecureMemory()

	if secure, limitKB := conversation.MlockStatus(); secure {
		logger.Info("Secure memory enabled", "mlockLimitKb", limitKB)
	} else {
		logger.Warn("Secure memory unavailable, check RLIMIT_MEMLOCK",
			"mlockLimitKb", limitKB, "fallbackEnv", conversation.InsecureMemoryEnvVar)
	}

	if cfg.Telemetry.Enabled {
		cleanup, err := initTracer(ctx)
		if err != nil {
			return fmt.Errorf("setup OTLP tracer: %w", err)
		}
		defer cleanup(context.Background())
	}

	observability.InitMetrics()

	secret, err := cfg.ResolveGateSecret()
	if err != nil {
		return err
	}
	accessGate, err := gate.New(secret)
	if err != nil {
		return fmt.Errorf("configure access gate: %w", err)
	}

	llmClient, err := llm.NewClient(cfg.LLM.Backend, cfg.LLM.Model)
	if err != nil {
		return fmt.Errorf("initialize LLM client: %w", err)
	}
	logger.Info("LLM client configured", "backend", cfg.LLM.Backend, "model", cfg.LLM.Model)

	var resize *extract.ResizeSpec
	if cfg.Uploads.ResizeWidth > 0 {
		resize = &extract.ResizeSpec{
			Width:  cfg.Uploads.ResizeWidth,
			Height: cfg.Uploads.ResizeHeight,
		}
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	routes.SetupRoutes(router, routes.Deps{
		Store:       session.NewStore(session.DefaultSystemInstruction),
		Gate:        accessGate,
		Coordinator: conversation.NewCoordinator(llmClient, cfg.LLM.MaxTokens),
		ImageResize: resize,
	})

	server := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:     router,
		ReadTimeout: cfg.Server.ReadTimeout,
		IdleTimeout: cfg.Server.IdleTimeout,
		// No WriteTimeout: SSE responses stay open for the life of a
		// stream.
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("Gateway listening", "addr", server.Addr)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("Shutting down gateway")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownWait)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		return fmt.Errorf("gateway terminated: %w", err)
	}
	logger.Info("Gateway stopped")
	return nil
}
