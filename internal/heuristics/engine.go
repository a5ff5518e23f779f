package heuristics

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rawblock/mule-engine/internal/graph"
	"github.com/rawblock/mule-engine/pkg/models"
)

// Detection Engine
//
// One Analyze call is one request: the graph is built once, the three
// detectors run as independent tasks on a shared worker pool reading the same
// immutable graph and ledger, and aggregation runs on the caller's goroutine
// once every detector has returned. Nothing survives the call except the
// returned result.

// EngineConfig bundles every detector and scoring knob
type EngineConfig struct {
	Cycle    CycleConfig    `json:"cycle"`
	Shell    ShellConfig    `json:"shell"`
	Smurfing SmurfingConfig `json:"smurfing"`
	Scoring  ScoringConfig  `json:"scoring"`

	Workers      int  `json:"workers"`      // Detector pool size, default 3
	IncludeGraph bool `json:"includeGraph"` // Attach the dashboard view, default true
}

// DefaultEngineConfig returns production defaults for every detector
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Cycle:        DefaultCycleConfig(),
		Shell:        DefaultShellConfig(),
		Smurfing:     DefaultSmurfingConfig(),
		Scoring:      DefaultScoringConfig(),
		Workers:      3,
		IncludeGraph: true,
	}
}

// Engine runs the detectors and the aggregator for each analysis request
type Engine struct {
	cfg    EngineConfig
	pool   pond.Pool
	flags  FlagLookup
	logger *zap.Logger
}

// NewEngine creates an engine with its own detector pool. flags may be nil.
func NewEngine(cfg EngineConfig, flags FlagLookup, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 3
	}
	return &Engine{
		cfg:    cfg,
		pool:   pond.NewPool(workers, pond.WithQueueSize(workers*16)),
		flags:  flags,
		logger: logger,
	}
}

// Close waits for in-flight detector tasks and releases the pool
func (e *Engine) Close() {
	e.pool.StopAndWait()
}

// Analyze runs the full detection pipeline over one ledger.
// An empty ledger yields an empty result, not an error.
func (e *Engine) Analyze(ctx context.Context, ledger models.Ledger) (models.AnalysisResult, error) {
	started := time.Now()
	requestID := uuid.NewString()
	log := e.logger.With(zap.String("requestId", requestID))

	g := graph.Build(ledger)
	log.Debug("graph built",
		zap.Int("accounts", g.VertexCount()),
		zap.Int("transactions", g.EdgeCount()),
	)

	var cycles, smurfs, shells []Finding

	group := e.pool.NewGroupContext(ctx)
	groupCtx := group.Context()

	group.Submit(func() {
		if groupCtx.Err() != nil {
			return
		}
		cycles = FindCycles(g, e.cfg.Cycle)
	})
	group.Submit(func() {
		if groupCtx.Err() != nil {
			return
		}
		smurfs = DetectSmurfing(ledger, e.cfg.Smurfing)
	})
	group.Submit(func() {
		if groupCtx.Err() != nil {
			return
		}
		shells = DetectShells(g, e.cfg.Shell)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
		return models.AnalysisResult{}, fmt.Errorf("run detectors: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return models.AnalysisResult{}, fmt.Errorf("analysis %s aborted: %w", requestID, err)
	}

	findings := make([]Finding, 0, len(cycles)+len(smurfs)+len(shells))
	findings = append(findings, cycles...)
	findings = append(findings, smurfs...)
	findings = append(findings, shells...)

	agg := Aggregate(g, findings, e.cfg.Scoring)

	result := models.AnalysisResult{
		RequestID:          requestID,
		SuspiciousAccounts: agg.Accounts,
		FraudRings:         agg.PublicRings(),
		Summary: models.Summary{
			TotalAccountsAnalyzed:     g.VertexCount(),
			SuspiciousAccountsFlagged: len(agg.Accounts),
			FraudRingsDetected:        len(agg.Rings),
		},
	}
	if e.cfg.IncludeGraph {
		result.GraphData = BuildGraphData(ctx, g, agg.Accounts, e.flags)
	}

	elapsed := time.Since(started)
	result.Summary.ProcessingTimeSeconds = math.Round(elapsed.Seconds()*100) / 100

	log.Info("analysis complete",
		zap.Int("cycles", len(cycles)),
		zap.Int("smurfing", len(smurfs)),
		zap.Int("shells", len(shells)),
		zap.Int("rings", len(agg.Rings)),
		zap.Int("suspiciousAccounts", len(agg.Accounts)),
		zap.Duration("elapsed", elapsed),
	)

	return result, nil
}
