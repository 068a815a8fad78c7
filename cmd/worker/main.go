/**
 * Label Verification Worker - Main Entry Point
 *
 * Go worker that checks alcohol beverage label images against their
 * application records.
 *
 * Architecture:
 * - Asynq consumer for the Redis-backed job queue (label:verify, label:verify-batch)
 * - OCR adapter: local Tesseract or the remote vision service
 * - Deterministic extraction and comparison under a TOML policy
 * - Optional Redis result cache keyed by image + application content
 *
 * Results are written to the task and kept for RESULT_RETENTION_HOURS;
 * no verification history is persisted beyond that.
 */

package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/adverant/nexus/labelverify-worker/internal/bootstrap"
	"github.com/adverant/nexus/labelverify-worker/internal/config"
	"github.com/adverant/nexus/labelverify-worker/internal/logging"
	"github.com/adverant/nexus/labelverify-worker/internal/queue"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(".env.labelverify"); err != nil {
		log.Printf("Warning: .env.labelverify not found, using system environment variables")
	}

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.ValidateQueue(); err != nil {
		log.Fatalf("Invalid queue configuration: %v", err)
	}

	if err := logging.Setup(cfg.LogLevel, cfg.LogFormat, os.Stdout); err != nil {
		log.Fatalf("Failed to configure logging: %v", err)
	}

	log.Printf("Label Verification Worker starting...")
	log.Printf("Configuration loaded: Redis=%s, Queue=%s, Workers=%d, OCR=%s",
		cfg.RedactedRedisURL(), cfg.QueueName, cfg.WorkerConcurrency, cfg.OCREngine)

	// Initialize verification components (policy, OCR engine, cache, processor)
	ctx := context.Background()
	components, err := bootstrap.Build(ctx, cfg, bootstrap.Options{})
	if err != nil {
		log.Fatalf("Failed to initialize label processor: %v", err)
	}
	log.Printf("Label processor initialized (engine=%s, cache=%t)",
		components.Engine.Name(), components.Cache != nil)

	// Initialize queue consumer
	log.Printf("Connecting to Redis queue...")
	queueConsumer, err := queue.NewConsumer(&queue.ConsumerConfig{
		RedisURL:          cfg.RedisURL,
		QueueName:         cfg.QueueName,
		Concurrency:       cfg.WorkerConcurrency,
		Verifier:          components.Processor,
		Batch:             components.Batch,
		BatchOptions:      bootstrap.BatchOptions(cfg),
		ArchiveLimits:     bootstrap.ArchiveLimits(cfg),
		ProcessingTimeout: int64(cfg.ProcessingTimeout),
	})
	if err != nil {
		log.Fatalf("Failed to initialize queue consumer: %v", err)
	}

	// Start queue consumer
	if err := queueConsumer.Start(ctx); err != nil {
		log.Fatalf("Failed to start queue consumer: %v", err)
	}

	// Print startup summary
	log.Printf("===========================================")
	log.Printf("Label Verification Worker is READY")
	log.Printf("===========================================")
	log.Printf("Queue: %s", cfg.QueueName)
	log.Printf("Workers: %d", cfg.WorkerConcurrency)
	log.Printf("Batch Concurrency: %d (max %d pairs)", cfg.BatchConcurrency, cfg.MaxBatchPairs)
	log.Printf("Processing Timeout: %v", time.Duration(cfg.ProcessingTimeout)*time.Millisecond)
	log.Printf("OCR Timeout: %v", time.Duration(cfg.OCRTimeoutMs)*time.Millisecond)
	log.Printf("===========================================")
	log.Printf("Waiting for jobs...")

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	// Wait for shutdown signal
	sig := <-sigChan
	log.Printf("Received signal %v, initiating graceful shutdown...", sig)

	if err := queueConsumer.Stop(ctx); err != nil {
		log.Printf("Error stopping queue consumer: %v", err)
	}

	if err := components.Close(); err != nil {
		log.Printf("Error closing result cache: %v", err)
	}

	log.Printf("Shutdown complete")
}
