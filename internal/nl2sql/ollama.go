package nl2sql

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

type OllamaConfig struct {
	BaseURL string
	Model   string
	Timeout time.Duration
}

// OllamaGenerator calls a local Ollama server's generate endpoint. The server
// replies with newline-delimited JSON fragments even when streaming is off,
// so the response body is reassembled fragment by fragment.
type OllamaGenerator struct {
	baseURL string
	model   string
	client  *http.Client
	logger  *slog.Logger
}

func NewOllamaGenerator(cfg OllamaConfig, logger *slog.Logger) *OllamaGenerator {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gemma3:12b"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OllamaGenerator{
		baseURL: baseURL,
		model:   model,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// Generate returns the generated SQL, or the empty string when anything goes
// wrong. Failures are logged and swallowed: a broken model must not break the
// conversation, the empty statement is recorded like any other outcome.
func (g *OllamaGenerator) Generate(ctx context.Context, req Request) string {
	prompt := BuildPrompt(req.Tables, req.History, req.Question)

	payload, err := json.Marshal(map[string]any{
		"model":  g.model,
		"prompt": prompt,
		"stream": false,
	})
	if err != nil {
		g.logger.ErrorContext(ctx, "marshal generate payload", "error", err)
		return ""
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		g.logger.ErrorContext(ctx, "build generate request", "error", err)
		return ""
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		g.logger.ErrorContext(ctx, "call generation backend", "error", err)
		return ""
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		g.logger.ErrorContext(ctx, "read generation response", "error", err)
		return ""
	}
	if resp.StatusCode >= 400 {
		g.logger.ErrorContext(ctx, "generation backend rejected request",
			"status", resp.StatusCode, "body", truncateForLog(string(body)))
		return ""
	}

	sql := assembleSQL(string(body))
	g.logger.InfoContext(ctx, "generated sql", "model", g.model, "sql", sql)
	return sql
}

// assembleSQL joins the response fields of the newline-delimited fragments.
// Fragments that are bare fence markers are dropped before joining, and any
// fence text that survives inside a fragment is stripped afterwards.
func assembleSQL(body string) string {
	var parts []string
	for _, line := range strings.Split(strings.TrimSpace(body), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var fragment struct {
			Response string `json:"response"`
		}
		if err := json.Unmarshal([]byte(line), &fragment); err != nil {
			continue
		}
		switch strings.TrimSpace(fragment.Response) {
		case "```", "```sql", "sql":
			continue
		}
		parts = append(parts, fragment.Response)
	}

	sql := strings.TrimSpace(strings.Join(parts, ""))
	sql = strings.ReplaceAll(sql, "```sql", "")
	sql = strings.ReplaceAll(sql, "```", "")
	return strings.TrimSpace(sql)
}

func truncateForLog(body string) string {
	const limit = 512
	if len(body) <= limit {
		return body
	}
	return body[:limit] + "..."
}
