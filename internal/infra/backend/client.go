// Package backend is a typed client for the citation QA service's /split and
// /ask endpoints. /split is retried for the whole budget while the backend
// warms up; /ask gets AskAttempts tries (one by default).
package backend

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/vietddude/squai/internal/core/domain"
	"github.com/vietddude/squai/internal/infra/requester"
)

// ErrMalformedResponse is returned when a 2xx body cannot be decoded.
var ErrMalformedResponse = errors.New("malformed backend response")

// Config holds backend connection settings.
type Config struct {
	BaseURL   string           `yaml:"base_url"`
	SplitPath string           `yaml:"split_path"`
	AskPath   string           `yaml:"ask_path"`
	Retry     requester.Config `yaml:"retry"`
	// AskAttempts caps /ask attempts within the retry budget. 0 = 1.
	AskAttempts int `yaml:"ask_attempts"`
}

// Poster is the subset of *requester.Requester the client needs.
type Poster interface {
	Post(ctx context.Context, req requester.Request) (*requester.Response, error)
}

// Client calls the QA backend.
type Client struct {
	splitURL    string
	askURL      string
	askAttempts int
	poster      Poster
}

// NewClient creates a backend client.
func NewClient(cfg Config, poster Poster) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid backend base url %q", cfg.BaseURL)
	}

	splitPath := cfg.SplitPath
	if splitPath == "" {
		splitPath = "/split"
	}
	askPath := cfg.AskPath
	if askPath == "" {
		askPath = "/ask"
	}

	askAttempts := cfg.AskAttempts
	if askAttempts <= 0 {
		askAttempts = 1
	}

	return &Client{
		splitURL:    base.JoinPath(splitPath).String(),
		askURL:      base.JoinPath(askPath).String(),
		askAttempts: askAttempts,
		poster:      poster,
	}, nil
}

// Split asks the backend whether q should be decomposed into sub-questions.
func (c *Client) Split(ctx context.Context, q domain.Query) (domain.SplitResult, error) {
	var out domain.SplitResult
	if err := c.post(ctx, requester.Request{URL: c.splitURL, Payload: q}, &out); err != nil {
		return domain.SplitResult{}, fmt.Errorf("split: %w", err)
	}
	if out.SubQuestions == nil {
		out.SubQuestions = []string{}
	}
	return out, nil
}

// Ask retrieves the answer, references and debug info for req.
func (c *Client) Ask(ctx context.Context, req domain.AskRequest) (domain.AskResult, error) {
	var out domain.AskResult
	if err := c.post(ctx, requester.Request{URL: c.askURL, Payload: req, MaxAttempts: c.askAttempts}, &out); err != nil {
		return domain.AskResult{}, fmt.Errorf("ask: %w", err)
	}
	return out, nil
}

func (c *Client) post(ctx context.Context, req requester.Request, out any) error {
	resp, err := c.poster.Post(ctx, req)
	if err != nil {
		return err
	}
	if err := resp.DecodeJSON(out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}
