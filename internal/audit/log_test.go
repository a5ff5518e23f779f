package audit

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const draft = `{"mule_herder": "ACC_A", "typology": "Circular flow"}`

func TestNewSubmission(t *testing.T) {
	s, err := NewSubmission("RING_001", json.RawMessage(draft), "notes")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(s.ReferenceID, "SAR-"))
	assert.Equal(t, "RING_001", s.RingID)
	assert.Equal(t, `{"mule_herder":"ACC_A","typology":"Circular flow"}`, string(s.ReportContent))
	assert.False(t, s.SubmittedAt.IsZero())

	_, err = NewSubmission(" ", json.RawMessage(draft), "")
	assert.ErrorIs(t, err, ErrMissingRing)
}

func TestNewSubmission_RejectsNonObjectReport(t *testing.T) {
	for _, content := range []string{``, `"plain text"`, `{}`, `[1,2]`, `null`, `{"a":`} {
		_, err := NewSubmission("RING_001", json.RawMessage(content), "")
		assert.ErrorIs(t, err, ErrInvalidReport, "content %q", content)
	}
}

func TestFileLog_AppendOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sar.log")
	l := NewFileLog(path)

	first, err := NewSubmission("RING_001", json.RawMessage("{\n  \"typology\": \"cycle\"\n}"), "")
	require.NoError(t, err)
	second, err := NewSubmission("RING_002", json.RawMessage(`{"typology":"fan-in"}`), "")
	require.NoError(t, err)

	require.NoError(t, l.Append(context.Background(), first))
	require.NoError(t, l.Append(context.Background(), second))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `Ring RING_001 - {"typology":"cycle"}`)
	assert.Contains(t, lines[0], first.ReferenceID)
	assert.Contains(t, lines[1], `Ring RING_002 - {"typology":"fan-in"}`)
}

func TestFileLog_DefaultPath(t *testing.T) {
	assert.Equal(t, "sar_submissions.log", NewFileLog("").Path())
}

func TestFileLog_UnwritablePath(t *testing.T) {
	l := NewFileLog(filepath.Join(t.TempDir(), "missing", "dir", "sar.log"))
	s, err := NewSubmission("RING_001", json.RawMessage(draft), "")
	require.NoError(t, err)
	assert.Error(t, l.Append(context.Background(), s))
}
