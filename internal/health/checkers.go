package health

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

var errSkipped = errors.New("skipped")

// Pinger is anything with a context-aware ping.
type Pinger interface {
	Ping(ctx context.Context) error
}

type pingChecker struct {
	name     string
	required bool
	pinger   Pinger
}

// NewPingChecker wraps a Pinger as a health check. A nil pinger reports
// skipped, which covers optional dependencies that were never
// configured.
func NewPingChecker(name string, required bool, pinger Pinger) Checker {
	return &pingChecker{name: name, required: required, pinger: pinger}
}

func (c *pingChecker) Name() string   { return c.name }
func (c *pingChecker) Required() bool { return c.required }

func (c *pingChecker) Check(ctx context.Context) error {
	if c.pinger == nil {
		return errSkipped
	}
	return c.pinger.Ping(ctx)
}

type openAIChecker struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewOpenAIChecker probes the embedding provider. Without an API key it
// reports skipped rather than failing.
func NewOpenAIChecker(apiKey, baseURL string) Checker {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &openAIChecker{
		apiKey:  apiKey,
		baseURL: baseURL,
		client:  &http.Client{Timeout: 3 * time.Second},
	}
}

func (c *openAIChecker) Name() string   { return "openai" }
func (c *openAIChecker) Required() bool { return false }

func (c *openAIChecker) Check(ctx context.Context) error {
	if c.apiKey == "" {
		return errSkipped
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("openai status %d", resp.StatusCode)
	}
	return nil
}
