package flags

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Status is an analyst's disposition of a flagged account
type Status string

const (
	StatusFalsePositive Status = "false_positive"
	StatusEscalated     Status = "escalated"
	StatusReviewPending Status = "review_pending"
)

var (
	ErrInvalidStatus = errors.New("status must be one of false_positive, escalated, review_pending")
	ErrMissingID     = errors.New("account_id is required")
)

// Flag is the latest analyst decision recorded for an account
type Flag struct {
	AccountID string    `json:"account_id"`
	Status    Status    `json:"status"`
	Notes     string    `json:"notes,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store persists account flags. Set overwrites any previous flag.
type Store interface {
	Get(ctx context.Context, accountID string) (Flag, bool, error)
	Set(ctx context.Context, flag Flag) error
}

// ParseStatus validates a client-supplied status string
func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.TrimSpace(s)); st {
	case StatusFalsePositive, StatusEscalated, StatusReviewPending:
		return st, nil
	default:
		return "", fmt.Errorf("%w: got %q", ErrInvalidStatus, s)
	}
}

// Validate checks a flag before it is stored and stamps UpdatedAt if unset
func (f *Flag) Validate() error {
	if strings.TrimSpace(f.AccountID) == "" {
		return ErrMissingID
	}
	if _, err := ParseStatus(string(f.Status)); err != nil {
		return err
	}
	if f.UpdatedAt.IsZero() {
		f.UpdatedAt = time.Now().UTC()
	}
	return nil
}

// Lookup exposes a Store as the status-only view the dashboard graph needs.
// Store errors are logged and read as "no flag".
type Lookup struct {
	Store  Store
	Logger *zap.Logger
}

func (l Lookup) Status(ctx context.Context, accountID string) (string, bool) {
	if l.Store == nil {
		return "", false
	}
	f, ok, err := l.Store.Get(ctx, accountID)
	if err != nil {
		if l.Logger != nil {
			l.Logger.Warn("flag lookup failed", zap.String("accountId", accountID), zap.Error(err))
		}
		return "", false
	}
	if !ok {
		return "", false
	}
	return string(f.Status), true
}
