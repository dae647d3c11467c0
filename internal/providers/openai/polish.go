// Package openai implements the polish backend over a chat-completions
// endpoint (OpenAI or Azure OpenAI compatible).
package openai

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

	"github.com/rs/zerolog"

	"github.com/joeyzenghuan/OpenTypeless/internal/domain"
	"github.com/joeyzenghuan/OpenTypeless/internal/ports"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultModel   = "gpt-4o-mini"
	defaultTimeout = 10 * time.Second
)

// Config controls the polish call.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Backend implements ports.PolishBackend.
type Backend struct {
	cfg    Config
	client *http.Client
	log    zerolog.Logger
	now    func() time.Time
}

func NewBackend(cfg Config, log zerolog.Logger) *Backend {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Backend{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		log:    log.With().Str("component", "polish").Logger(),
		now:    time.Now,
	}
}

func (b *Backend) Name() string { return "openai" }

// IsConfigured checks credentials only; no I/O.
func (b *Backend) IsConfigured() bool {
	return strings.TrimSpace(b.cfg.APIKey) != ""
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Polish sends raw text plus instructions and returns the refined text with
// timing metadata. The caller falls back to the unpolished text on any
// failure.
func (b *Backend) Polish(ctx context.Context, req ports.PolishRequest) (domain.PolishResult, error) {
	if !b.IsConfigured() {
		return domain.PolishResult{}, domain.NewFailure(domain.KindNotConfigured, "polish api key missing", nil)
	}

	payload, err := json.Marshal(chatRequest{
		Model: b.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: req.Instructions},
			{Role: "user", Content: req.Text},
		},
	})
	if err != nil {
		return domain.PolishResult{}, domain.NewFailure(domain.KindTransport, "encode polish request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(b.cfg.BaseURL, "/")+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return domain.PolishResult{}, domain.NewFailure(domain.KindTransport, "build polish request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+b.cfg.APIKey)

	started := b.now()
	resp, err := b.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return domain.PolishResult{}, domain.NewFailure(domain.KindTransport, "polish request timed out", err)
		}
		return domain.PolishResult{}, domain.NewFailure(domain.KindTransport, "polish request failed", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return domain.PolishResult{}, domain.NewFailure(domain.KindRateLimited, "polish rate limited", nil)
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return domain.PolishResult{}, domain.NewFailure(domain.KindTransport,
			fmt.Sprintf("polish returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))), nil)
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return domain.PolishResult{}, domain.NewFailure(domain.KindTransport, "decode polish response", err)
	}
	if len(parsed.Choices) == 0 {
		return domain.PolishResult{}, domain.NewFailure(domain.KindTransport, "polish response had no choices", nil)
	}

	return domain.PolishResult{
		Text:     strings.TrimSpace(parsed.Choices[0].Message.Content),
		Provider: b.Name(),
		Model:    b.cfg.Model,
		Duration: b.now().Sub(started),
	}, nil
}
