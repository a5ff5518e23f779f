package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Submission is one SAR filed by an analyst
type Submission struct {
	ReferenceID   string          `json:"reference_id"`
	RingID        string          `json:"ring_id"`
	ReportContent json.RawMessage `json:"report_content"`
	AnalystNotes  string          `json:"analyst_notes,omitempty"`
	SubmittedAt   time.Time       `json:"submitted_at"`
}

// Log is an append-only record of SAR submissions
type Log interface {
	Append(ctx context.Context, s Submission) error
}

var (
	ErrMissingRing   = errors.New("ring_id is required")
	ErrInvalidReport = errors.New("report_content must be a non-empty JSON object")
)

// NewSubmission stamps a reference ID and submission time. The report is
// the structured draft from generate-sar and is stored compacted.
func NewSubmission(ringID string, content json.RawMessage, notes string) (Submission, error) {
	if strings.TrimSpace(ringID) == "" {
		return Submission{}, ErrMissingRing
	}
	var fields map[string]any
	if err := json.Unmarshal(content, &fields); err != nil || len(fields) == 0 {
		return Submission{}, ErrInvalidReport
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, content); err != nil {
		return Submission{}, ErrInvalidReport
	}
	now := time.Now().UTC()
	return Submission{
		ReferenceID:   fmt.Sprintf("SAR-%d-%s", now.Unix(), uuid.NewString()[:8]),
		RingID:        ringID,
		ReportContent: compact.Bytes(),
		AnalystNotes:  notes,
		SubmittedAt:   now,
	}, nil
}

// FileLog appends one line per submission to a local file
type FileLog struct {
	mu   sync.Mutex
	path string
}

func NewFileLog(path string) *FileLog {
	if path == "" {
		path = "sar_submissions.log"
	}
	return &FileLog{path: path}
}

// Path returns the file the log writes to
func (l *FileLog) Path() string { return l.path }

func (l *FileLog) Append(_ context.Context, s Submission) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	// compact JSON keeps one submission per line
	line := fmt.Sprintf("[%s] SUBMISSION %s: Ring %s - %s\n",
		s.SubmittedAt.Format(time.RFC3339), s.ReferenceID, s.RingID, s.ReportContent)
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("write audit log: %w", err)
	}
	return nil
}
