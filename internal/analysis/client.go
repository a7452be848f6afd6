package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"coaching_framework/internal/config"
)

// Request carries everything one analysis call needs. The system prompt
// rides in Config.
type Request struct {
	ContextPrompt string
	WindowPayload string // marshalled window JSON appended to the user turn
	Config        config.AnalysisConfig
}

// Result is the analysis output plus call metrics.
type Result struct {
	Content          string `json:"content"`
	TokensUsed       int    `json:"tokens_used"`
	ProcessingTimeMs int64  `json:"processing_time_ms"`
	Attempts         int    `json:"attempts,omitempty"`
}

// Client performs one analysis call. Implementations must be safe for
// concurrent use across sessions.
type Client interface {
	Analyze(ctx context.Context, req Request) (Result, error)
}

// HTTPClient calls an OpenAI-compatible chat-completions endpoint.
type HTTPClient struct {
	client *http.Client
	apiKey func() string
}

func NewHTTPClient(client *http.Client, apiKey func() string) *HTTPClient {
	if client == nil {
		client = &http.Client{Timeout: 120 * time.Second}
	}
	if apiKey == nil {
		apiKey = config.APIKey
	}
	return &HTTPClient{client: client, apiKey: apiKey}
}

func (c *HTTPClient) Analyze(ctx context.Context, req Request) (Result, error) {
	start := time.Now()
	endpoint := strings.TrimRight(req.Config.BaseURL, "/") + "/v1/chat/completions"

	user := req.ContextPrompt
	if strings.TrimSpace(req.WindowPayload) != "" {
		user += "\n\n**CURRENT WINDOW DATA:**\n" + req.WindowPayload
	}
	payload := map[string]any{
		"model":            req.Config.Model,
		"reasoning_effort": req.Config.ReasoningEffort,
		"verbosity":        req.Config.Verbosity,
		"messages": []map[string]string{
			{"role": "system", "content": req.Config.SystemPrompt},
			{"role": "user", "content": user},
		},
	}
	if req.Config.MaxOutputTokens > 0 {
		payload["max_completion_tokens"] = req.Config.MaxOutputTokens
	}
	buf, _ := json.Marshal(payload)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(buf))
	if err != nil {
		return Result{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if key := c.apiKey(); key != "" {
		httpReq.Header.Set("Authorization", "Bearer "+key)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return Result{}, fmt.Errorf("analysis status %d: %s", resp.StatusCode, truncate(string(body), 240))
	}

	var wrapper struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			TotalTokens int `json:"total_tokens"`
		} `json:"usage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&wrapper); err != nil {
		return Result{}, err
	}
	if len(wrapper.Choices) == 0 {
		return Result{}, errors.New("empty analysis response")
	}
	return Result{
		Content:          strings.TrimSpace(wrapper.Choices[0].Message.Content),
		TokensUsed:       wrapper.Usage.TotalTokens,
		ProcessingTimeMs: time.Since(start).Milliseconds(),
	}, nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) > n {
		return s[:n]
	}
	return s
}
