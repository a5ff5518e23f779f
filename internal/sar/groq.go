package sar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Config configures the OpenAI-compatible chat completions client
type Config struct {
	APIKey      string
	BaseURL     string // e.g. https://api.groq.com/openai/v1
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

const systemPrompt = "You are a specialized financial crime detection AI. " +
	"You MUST respond with ONLY a valid JSON object with the keys executive_summary and mule_herder. " +
	"Do not include markdown formatting or commentary before or after the JSON."

// GroqDrafter drafts narratives through a chat completions endpoint
type GroqDrafter struct {
	httpClient  *http.Client
	endpoint    string
	apiKey      string
	model       string
	temperature float64
	maxTokens   int
	logger      *zap.Logger
}

// NewGroqDrafter validates cfg and fills defaults for unset fields
func NewGroqDrafter(cfg Config, logger *zap.Logger) (*GroqDrafter, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.groq.com/openai/v1"
	}
	model := cfg.Model
	if model == "" {
		model = "llama-3.1-8b-instant"
	}
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 300
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &GroqDrafter{
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		endpoint:    baseURL + "/chat/completions",
		apiKey:      cfg.APIKey,
		model:       model,
		temperature: cfg.Temperature,
		maxTokens:   maxTokens,
		logger:      logger,
	}, nil
}

// Draft sends the ring to the model and validates the JSON it returns
func (d *GroqDrafter) Draft(ctx context.Context, ring RingReport) (Narrative, error) {
	requestBody := map[string]any{
		"model": d.model,
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": buildPrompt(ring)},
		},
		"temperature":     d.temperature,
		"max_tokens":      d.maxTokens,
		"response_format": map[string]string{"type": "json_object"},
	}

	jsonBody, err := json.Marshal(requestBody)
	if err != nil {
		return Narrative{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(jsonBody))
	if err != nil {
		return Narrative{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+d.apiKey)

	started := time.Now()
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return Narrative{}, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Narrative{}, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return Narrative{}, fmt.Errorf("chat completions error (status %d): %s", resp.StatusCode, string(body))
	}

	var response chatResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return Narrative{}, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(response.Choices) == 0 {
		return Narrative{}, fmt.Errorf("%w: no completion choices returned", ErrInvalidNarrative)
	}

	d.logger.Debug("narrative drafted",
		zap.String("ringId", ring.RingID),
		zap.String("model", d.model),
		zap.Int("totalTokens", response.Usage.TotalTokens),
		zap.Duration("elapsed", time.Since(started)),
	)

	return parseNarrative(response.Choices[0].Message.Content, ring)
}

func parseNarrative(content string, ring RingReport) (Narrative, error) {
	var n Narrative
	if err := json.Unmarshal([]byte(stripCodeFence(content)), &n); err != nil {
		return Narrative{}, fmt.Errorf("%w: %v", ErrInvalidNarrative, err)
	}
	if strings.TrimSpace(n.ExecutiveSummary) == "" {
		return Narrative{}, fmt.Errorf("%w: empty executive_summary", ErrInvalidNarrative)
	}
	if strings.TrimSpace(n.MuleHerder) == "" {
		n.MuleHerder = "Unknown"
		if len(ring.MemberAccounts) > 0 {
			n.MuleHerder = ring.MemberAccounts[0]
		}
	}
	return n, nil
}

func buildPrompt(ring RingReport) string {
	var b strings.Builder
	b.WriteString("You are an expert Financial Forensics Analyst for FinCEN.\n")
	b.WriteString("Analyze the following Fraud Ring data and generate a professional Suspicious Activity Report (SAR) snippet.\n\n")
	fmt.Fprintf(&b, "Ring ID: %s\n", ring.RingID)
	fmt.Fprintf(&b, "Pattern Type: %s\n", ring.PatternType)
	fmt.Fprintf(&b, "Risk Score: %.1f/100\n", ring.RiskScore)
	fmt.Fprintf(&b, "Total Volume: $%.2f\n", ring.TotalValue)
	fmt.Fprintf(&b, "Member Accounts: %s\n\n", strings.Join(ring.MemberAccounts, ", "))
	b.WriteString("Output strictly in JSON format with two keys:\n")
	b.WriteString(`1. "executive_summary": A professional, 3-sentence summary of the suspicious activity, mentioning the typology (e.g. smurfing, cycle) and financial impact. Use "We have detected..." style.` + "\n")
	b.WriteString(`2. "mule_herder": Identify the likely central actor (account ID) and briefly explain why. If unsure, pick the first account.` + "\n")
	return b.String()
}

// stripCodeFence removes a ```json ... ``` wrapper some models add anyway
func stripCodeFence(content string) string {
	s := strings.TrimSpace(content)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
		Index        int    `json:"index"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}
