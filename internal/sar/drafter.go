package sar

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
)

// RingReport is the ring an analyst asks to have written up
type RingReport struct {
	RingID         string   `json:"ring_id"`
	PatternType    string   `json:"pattern_type"`
	RiskScore      float64  `json:"risk_score"`
	MemberAccounts []string `json:"member_accounts"`
	TotalValue     float64  `json:"total_value,omitempty"`
}

// Narrative is the drafted SAR snippet
type Narrative struct {
	ExecutiveSummary string `json:"executive_summary"`
	MuleHerder       string `json:"mule_herder"`
}

// Drafter writes a narrative for a ring
type Drafter interface {
	Draft(ctx context.Context, ring RingReport) (Narrative, error)
}

var (
	ErrInvalidNarrative = errors.New("model returned an invalid narrative")
	ErrMissingAPIKey    = errors.New("sar drafting API key is required")
)

// New returns the model-backed drafter when an API key is configured and
// the placeholder otherwise.
func New(cfg Config, logger *zap.Logger) Drafter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		logger.Info("no SAR API key configured, using placeholder narratives")
		return PlaceholderDrafter{}
	}
	d, err := NewGroqDrafter(cfg, logger)
	if err != nil {
		logger.Warn("SAR drafter unavailable, using placeholder", zap.Error(err))
		return PlaceholderDrafter{}
	}
	return d
}

// PlaceholderDrafter produces a fixed narrative without calling a model
type PlaceholderDrafter struct{}

// Draft names the first member as the likely central actor
func (PlaceholderDrafter) Draft(_ context.Context, ring RingReport) (Narrative, error) {
	herder := "Unknown"
	if len(ring.MemberAccounts) > 0 {
		herder = ring.MemberAccounts[0]
	}
	return Narrative{
		ExecutiveSummary: "Simulated AI Response: Groq API Key is missing. This is a placeholder summary indicating that a suspicious ring was detected with circular flow characteristics.",
		MuleHerder:       herder,
	}, nil
}
