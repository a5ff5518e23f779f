package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/rawblock/mule-engine/internal/audit"
	"github.com/rawblock/mule-engine/internal/flags"
	"github.com/rawblock/mule-engine/internal/ledger"
	"github.com/rawblock/mule-engine/internal/sar"
)

// POST /api/v1/analyze
// Multipart upload (field "file") of a CSV ledger; returns the full analysis.
func (h *APIHandler) handleAnalyze(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)

	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing multipart file field \"file\""})
		return
	}
	f, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unable to read upload"})
		return
	}
	defer f.Close()

	txs, err := ledger.Parse(f)
	if err != nil {
		if errors.Is(err, ledger.ErrMissingColumns) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Missing columns. Required: transaction_id, sender_id, receiver_id, amount, timestamp", "details": err.Error()})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid CSV: " + err.Error()})
		return
	}

	result, err := h.Engine.Analyze(c.Request.Context(), txs)
	if err != nil {
		h.Logger.Error("analysis failed", zap.String("file", fh.Filename), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Analysis failed", "details": err.Error()})
		return
	}

	if h.Hub != nil {
		h.Hub.Publish(EventAnalysisComplete, gin.H{
			"request_id": result.RequestID,
			"summary":    result.Summary,
		})
	}
	if h.Alerts != nil {
		h.Alerts.EmitForResult(c.Request.Context(), result)
	}

	c.JSON(http.StatusOK, result)
}

// POST /api/v1/generate-sar
// Drafts a SAR narrative for one ring.
func (h *APIHandler) handleGenerateSAR(c *gin.Context) {
	var ring sar.RingReport
	if err := c.ShouldBindJSON(&ring); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	narrative, err := h.Drafter.Draft(c.Request.Context(), ring)
	if err != nil {
		h.Logger.Warn("SAR drafting failed", zap.String("ringId", ring.RingID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, narrative)
}

// POST /api/v1/flag-account
// Records an analyst disposition for an account.
func (h *APIHandler) handleFlagAccount(c *gin.Context) {
	var req struct {
		AccountID string `json:"account_id" binding:"required"`
		Status    string `json:"status" binding:"required"`
		Notes     string `json:"notes"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	status, err := flags.ParseStatus(req.Status)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	flag := flags.Flag{AccountID: req.AccountID, Status: status, Notes: req.Notes, UpdatedAt: time.Now().UTC()}
	if err := h.Flags.Set(c.Request.Context(), flag); err != nil {
		if errors.Is(err, flags.ErrInvalidStatus) || errors.Is(err, flags.ErrMissingID) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.Logger.Error("flag store write failed", zap.String("accountId", req.AccountID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store flag"})
		return
	}

	h.Logger.Info("account flagged", zap.String("accountId", req.AccountID), zap.String("status", string(status)))
	c.JSON(http.StatusOK, gin.H{
		"message":    "Account status updated",
		"account_id": req.AccountID,
		"status":     status,
	})
}

// POST /api/v1/submit-sar
// Appends a filed SAR to the audit log and returns its reference.
func (h *APIHandler) handleSubmitSAR(c *gin.Context) {
	var req struct {
		RingID        string          `json:"ring_id" binding:"required"`
		ReportContent json.RawMessage `json:"report_content" binding:"required"`
		AnalystNotes  string          `json:"analyst_notes"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	sub, err := audit.NewSubmission(req.RingID, req.ReportContent, req.AnalystNotes)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.Audit.Append(c.Request.Context(), sub); err != nil {
		h.Logger.Error("audit append failed", zap.String("ringId", req.RingID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record submission"})
		return
	}

	h.Logger.Info("SAR submitted",
		zap.String("ringId", sub.RingID),
		zap.String("referenceId", sub.ReferenceID),
		zap.String("scope", string(grantedScope(c))),
	)
	c.JSON(http.StatusOK, gin.H{
		"message":      "SAR Submitted to FinCEN",
		"reference_id": sub.ReferenceID,
	})
}

// GET /api/v1/sar-submissions/:ringId
// Lists filed SARs for a ring when the audit log is queryable.
func (h *APIHandler) handleListSubmissions(c *gin.Context) {
	if h.Submissions == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "Audit log backend does not support queries"})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	subs, err := h.Submissions.SubmissionsForRing(c.Request.Context(), c.Param("ringId"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch submissions", "details": err.Error()})
		return
	}
	if subs == nil {
		subs = []audit.Submission{}
	}
	c.JSON(http.StatusOK, gin.H{"submissions": subs})
}

// GET /api/v1/alerts
// Returns recent high-risk ring alerts, newest first.
func (h *APIHandler) handleRecentAlerts(c *gin.Context) {
	if h.Alerts == nil {
		c.JSON(http.StatusOK, gin.H{"alerts": []any{}})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	c.JSON(http.StatusOK, gin.H{"alerts": h.Alerts.GetRecentAlerts(limit)})
}

// GET /api/v1/health
func (h *APIHandler) handleHealth(c *gin.Context) {
	dbStatus := "disabled"
	if h.DB != nil {
		dbStatus = "ok"
		if err := h.DB.Ping(c.Request.Context()); err != nil {
			dbStatus = "unreachable"
		}
	}

	clients := 0
	if h.Hub != nil {
		clients = h.Hub.ClientCount()
	}

	c.JSON(http.StatusOK, gin.H{
		"status":        "operational",
		"engine":        "mule-engine",
		"uptimeSeconds": int(time.Since(h.startedAt).Seconds()),
		"database":      dbStatus,
		"streamClients": clients,
	})
}
