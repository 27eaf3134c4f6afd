// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"google.golang.org/grpc/credentials/insecure"

	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"

	"github.com/AleutianAI/AleutianEngage/services/assistant/breaker"
	"github.com/AleutianAI/AleutianEngage/services/assistant/config"
	"github.com/AleutianAI/AleutianEngage/services/assistant/datatypes"
	"github.com/AleutianAI/AleutianEngage/services/assistant/dialog"
	"github.com/AleutianAI/AleutianEngage/services/assistant/handlers"
	"github.com/AleutianAI/AleutianEngage/services/assistant/messaging"
	"github.com/AleutianAI/AleutianEngage/services/assistant/observability"
	"github.com/AleutianAI/AleutianEngage/services/assistant/preprocess"
	"github.com/AleutianAI/AleutianEngage/services/assistant/ratelimit"
	"github.com/AleutianAI/AleutianEngage/services/assistant/recovery"
	"github.com/AleutianAI/AleutianEngage/services/assistant/routes"
	"github.com/AleutianAI/AleutianEngage/services/assistant/rules"
	"github.com/AleutianAI/AleutianEngage/services/assistant/startup"
	"github.com/AleutianAI/AleutianEngage/services/assistant/store"
	"github.com/AleutianAI/AleutianEngage/services/llm"
)

func initTracer(endpoint string) (func(context.Context), error) {
	ctx := context.Background()

	if endpoint == "" {
		endpoint = "engage-otel-collector:4317"
	}
	conn, err := grpc.NewClient(endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("engage-assistant")))
	if err != nil {
		return nil, err
	}
	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.
		TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfgPath := os.Getenv("ENGAGE_CONFIG_PATH")
	if cfgPath == "" {
		slog.Warn("ENGAGE_CONFIG_PATH not set, running on defaults")
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("FATAL: could not load configuration: %v", err)
	}
	provider := config.NewProvider(cfg)

	if cfg.Telemetry.TraceExporter == "otlp" {
		cleanup, err := initTracer(cfg.Telemetry.OTLPEndpoint)
		if err != nil {
			log.Fatalf("failed to setup the OTLP tracer: %v", err)
		}
		defer cleanup(context.Background())
	}

	metrics := observability.InitMetrics()

	// --- Persistence ---
	db, err := store.Open(store.DefaultConfig(cfg.Store.Path))
	if err != nil {
		log.Fatalf("FATAL: could not open store at %s: %v", cfg.Store.Path, err)
	}
	defer db.Close()

	conversations := store.NewConversationStore(db)
	audit := store.NewAuditLog(db)
	dedup := store.NewDedupSet(db, time.Duration(cfg.Store.DedupTTLMinutes)*time.Minute)

	// --- Resilience ---
	registry := breaker.NewRegistry(breaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		SuccessThreshold: cfg.Breaker.SuccessThreshold,
		Cooldown:         time.Duration(cfg.Breaker.CooldownSeconds) * time.Second,
		OnStateChange: func(name string, _, to breaker.State) {
			metrics.RecordBreakerTransition(name, to.String())
		},
	})
	orchestrator := recovery.NewOrchestrator(registry, recovery.Config{
		CallTimeout:  time.Duration(cfg.Recovery.CallTimeoutSeconds) * time.Second,
		RetryBackoff: time.Duration(cfg.Recovery.RetryBackoffMillis) * time.Millisecond,
		Alert: func(_ context.Context, dependency string, err error) {
			slog.Error("dependency budget exhausted, operator attention required",
				"dependency", dependency, "error", err)
		},
		Observe: func(dependency string, seconds float64, success bool) {
			if dependency == "llm" {
				metrics.RecordInference(seconds, success)
			}
		},
	})

	// --- Inference backend ---
	var inference llm.InferenceClient
	var llmProbe startup.Probe
	openaiClient, err := llm.NewOpenAIClient()
	if err != nil {
		slog.Warn("no inference backend available, conversations will use fallback replies", "error", err)
		inference = llm.UnavailableClient{}
		llmProbe = func(context.Context) error { return llm.ErrNoBackend }
	} else {
		inference = openaiClient
		llmProbe = openaiClient.Ping
	}

	// --- Outbound delivery ---
	var messenger messaging.Messenger
	if cfg.WhatsApp.AccessToken != "" && cfg.WhatsApp.PhoneNumberID != "" {
		messenger = messaging.NewWhatsAppMessenger(cfg.WhatsApp)
	} else {
		slog.Warn("WhatsApp credentials not configured, using noop messenger")
		messenger = messaging.NoopMessenger{}
	}

	// --- Admission and dialogue ---
	sanitizer, err := rules.NewSanitizer(datatypes.MaxMessageBytes)
	if err != nil {
		log.Fatalf("FATAL: could not compile sanitizer patterns: %v", err)
	}
	limiter := ratelimit.NewLimiter(ratelimit.Config{
		Limit:  cfg.RateLimit.Limit,
		Window: cfg.RateWindow(),
	})

	machine := dialog.NewMachine(conversations, inference, orchestrator, audit,
		provider.Pricing, cfg.Dialog)
	machine.OnTransition(func(identity string, from, to datatypes.Stage) {
		if from == datatypes.StageGreeting && to == datatypes.StageCollectingProfile {
			metrics.ConversationStarted()
		}
		metrics.RecordTransition(from, to)
	})

	// --- Tiered startup ---
	manager := startup.NewManager(startup.DefaultConfig(), registry)
	manager.Register(startup.Service{
		Name: "store", Tier: 1, Required: true,
		Probe: func(_ context.Context) error { return db.Ping() },
	})
	manager.Register(startup.Service{
		Name: "llm", Tier: 2, Required: false, Probe: llmProbe, Breaker: "llm",
	})

	gate := preprocess.NewGate(sanitizer, limiter, dedup, audit,
		provider.Schedule, manager.Ready, cfg.Replies)

	// --- Background workers ---
	archiver := store.NewArchiver(conversations, store.ArchiverConfig{
		Interval:  time.Duration(cfg.Store.ArchiveIntervalMinutes) * time.Minute,
		IdleAfter: time.Duration(cfg.Store.ArchiveAfterHours) * time.Hour,
	})
	archiver.Start()
	defer archiver.Stop()

	janitor := ratelimit.NewJanitor(limiter, 0)
	janitor.Start()
	defer janitor.Stop()

	if cfgPath != "" {
		watcher, err := config.NewWatcher(cfgPath, provider)
		if err != nil {
			slog.Error("config hot reload disabled", "error", err)
		} else {
			watcher.Start()
			defer watcher.Stop()
		}
	}

	// Startup runs alongside the HTTP listener: /ready and the admission
	// gate stay closed until the required tiers finish.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		if err := manager.Run(ctx); err != nil {
			slog.Error("startup failed, service stays unready", "error", err)
			stop()
		}
	}()

	// --- HTTP surface ---
	router := gin.Default()
	router.Use(otelgin.Middleware("engage-assistant"))
	routes.SetupRoutes(router, routes.Deps{
		Webhook: handlers.WebhookDeps{
			Gate:         gate,
			Machine:      machine,
			Messenger:    messenger,
			Orchestrator: orchestrator,
			Audit:        audit,
			Metrics:      metrics,
		},
		VerifyToken:   cfg.WhatsApp.VerifyToken,
		Breakers:      registry,
		Conversations: conversations,
		Audit:         audit,
		Startup:       manager,
	})

	server := &http.Server{Addr: cfg.Server.Addr, Handler: router}
	go func() {
		slog.Info("starting the assistant server", "addr", cfg.Server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown failed", "error", err)
	}
}
