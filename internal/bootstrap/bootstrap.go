// Package bootstrap wires configuration into the verification components
// shared by the worker daemon and the operator CLI.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/adverant/nexus/labelverify-worker/internal/archive"
	"github.com/adverant/nexus/labelverify-worker/internal/batch"
	"github.com/adverant/nexus/labelverify-worker/internal/clients"
	"github.com/adverant/nexus/labelverify-worker/internal/config"
	"github.com/adverant/nexus/labelverify-worker/internal/logging"
	"github.com/adverant/nexus/labelverify-worker/internal/processor"
	"github.com/adverant/nexus/labelverify-worker/internal/storage"
)

// Components is everything a binary needs to verify labels
type Components struct {
	Config    *config.Config
	Policy    config.Policy
	Engine    processor.OCREngine
	Processor *processor.LabelProcessor
	Batch     *batch.Processor
	Cache     *storage.RedisCache // nil when disabled
}

// Options override what the environment says
type Options struct {
	PolicyPath  string // overrides POLICY_FILE
	Engine      string // overrides OCR_ENGINE
	FixturePath string // replay recorded OCR instead of running an engine
	NoCache     bool
}

// Build loads the policy, picks the OCR engine and assembles the processor
func Build(ctx context.Context, cfg *config.Config, opts Options) (*Components, error) {
	logger := logging.NewLogger("Bootstrap")

	// Step 1: Comparison policy
	policyPath := cfg.PolicyFile
	if opts.PolicyPath != "" {
		policyPath = opts.PolicyPath
	}
	policy, err := config.LoadPolicy(policyPath)
	if err != nil {
		return nil, err
	}

	// Step 2: OCR engine
	engine, err := BuildEngine(cfg, opts)
	if err != nil {
		return nil, err
	}

	// Step 3: Optional result cache
	var cache *storage.RedisCache
	if cfg.ResultCacheEnabled && !opts.NoCache {
		fingerprint, err := PolicyFingerprint(policy)
		if err != nil {
			return nil, err
		}
		cache, err = storage.NewRedisCache(ctx, &storage.RedisCacheConfig{
			RedisURL:  cfg.RedisURL,
			TTL:       time.Duration(cfg.ResultCacheTTLSeconds) * time.Second,
			Namespace: fingerprint,
		})
		if err != nil {
			// The cache is an optimization; run without it.
			logger.Warn("Result cache disabled", "error", err)
			cache = nil
		}
	}

	// Step 4: Processor
	procCfg := &processor.ProcessorConfig{
		Engine:     engine,
		Policy:     policy,
		OCRTimeout: time.Duration(cfg.OCRTimeoutMs) * time.Millisecond,
	}
	if cache != nil {
		procCfg.Cache = cache
	}
	proc, err := processor.NewLabelProcessor(procCfg)
	if err != nil {
		if cache != nil {
			cache.Close()
		}
		return nil, fmt.Errorf("failed to initialize label processor: %w", err)
	}

	logger.Info("Verification components ready",
		"engine", engine.Name(),
		"policy_file", policyPath,
		"result_cache", cache != nil)

	return &Components{
		Config:    cfg,
		Policy:    policy,
		Engine:    engine,
		Processor: proc,
		Batch:     batch.NewProcessor(proc),
		Cache:     cache,
	}, nil
}

// BuildEngine returns the OCR engine selected by config and options
func BuildEngine(cfg *config.Config, opts Options) (processor.OCREngine, error) {
	if opts.FixturePath != "" {
		return processor.LoadFixtureEngine(opts.FixturePath)
	}

	name := cfg.OCREngine
	if opts.Engine != "" {
		name = opts.Engine
	}

	switch name {
	case config.EngineTesseract:
		return processor.NewTesseractEngine(&processor.TesseractConfig{
			Language:       cfg.OCRLanguage,
			TessdataPrefix: cfg.TessdataPrefix,
			MaxImagePixels: cfg.MaxImagePixels,
		}), nil
	case config.EngineVision:
		if cfg.VisionOCRURL == "" {
			return nil, fmt.Errorf("VISION_OCR_URL is required for the %s engine", config.EngineVision)
		}
		return clients.NewVisionOCRClient(cfg.VisionOCRURL, cfg.OCRLanguage), nil
	default:
		return nil, fmt.Errorf("unknown OCR engine %q", name)
	}
}

// PolicyFingerprint identifies a policy in cache keys
func PolicyFingerprint(p config.Policy) (string, error) {
	data, err := p.Encode()
	if err != nil {
		return "", fmt.Errorf("failed to encode policy: %w", err)
	}
	return processor.HashBytes(data)[:16], nil
}

// BatchOptions maps batch settings from config
func BatchOptions(cfg *config.Config) batch.Options {
	return batch.Options{
		Concurrency:     cfg.BatchConcurrency,
		ThumbnailMaxDim: cfg.ThumbnailMaxDim,
		TimeBudget:      time.Duration(cfg.BatchTimeBudgetMs) * time.Millisecond,
		MaxPairs:        cfg.MaxBatchPairs,
	}
}

// ArchiveLimits maps archive settings from config
func ArchiveLimits(cfg *config.Config) archive.Limits {
	limits := archive.DefaultLimits()
	if cfg.MaxArchiveBytes > 0 {
		limits.MaxTotalBytes = cfg.MaxArchiveBytes
	}
	return limits
}

// Close releases what Build opened
func (c *Components) Close() error {
	if c.Cache != nil {
		return c.Cache.Close()
	}
	return nil
}
