package sentiment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// ProviderConfig controls the HTTP scoring client.
type ProviderConfig struct {
	// BaseURL is the provider endpoint root, e.g. "https://api.provider.example".
	BaseURL string
	// APIKey is the bearer credential. Held in memory only.
	APIKey string
	// Timeout bounds each HTTP call (default 15s).
	Timeout time.Duration
	// RPS caps outbound request rate (default 5; <=0 means unlimited).
	RPS float64
	// Burst is the limiter burst size (default 1).
	Burst int
}

const defaultProviderTimeout = 15 * time.Second

// Provider scores text through an external HTTP sentiment API. The provider
// returns raw scores on a 1..10 scale which are remapped into [-1, 1].
type Provider struct {
	cfg     ProviderConfig
	client  *http.Client
	limiter *rate.Limiter
}

// NewProvider builds a Provider from config.
func NewProvider(cfg ProviderConfig) (*Provider, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("sentiment provider: base url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultProviderTimeout
	}
	limit := rate.Limit(cfg.RPS)
	if cfg.RPS <= 0 {
		limit = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Provider{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(limit, burst),
	}, nil
}

type scoreRequest struct {
	Text string `json:"text"`
}

type scoreResponse struct {
	// Score is the provider's raw verdict on a 1..10 scale.
	Score float64 `json:"score"`
	// Confidence is in [0, 1].
	Confidence float64 `json:"confidence"`
}

// Validate probes the provider with the configured credential. It is called
// before a job touches any rows so a bad key fails the job up front.
func (p *Provider) Validate(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.BaseURL+"/v1/auth/check", nil)
	if err != nil {
		return fmt.Errorf("build auth check request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return &ProviderError{Message: err.Error(), Transient: true}
	}
	defer drainClose(resp.Body)

	return p.classifyStatus(resp.StatusCode)
}

// Score implements Scorer.
func (p *Provider) Score(ctx context.Context, text string) (Judgment, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return Judgment{}, fmt.Errorf("rate limit wait: %w", err)
	}

	body, err := json.Marshal(scoreRequest{Text: text})
	if err != nil {
		return Judgment{}, fmt.Errorf("encode score request: %w", err)
	}
	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, p.cfg.BaseURL+"/v1/score", bytes.NewReader(body))
	if err != nil {
		return Judgment{}, fmt.Errorf("build score request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Judgment{}, fmt.Errorf("score request: %w", ctx.Err())
		}
		return Judgment{}, &ProviderError{Message: err.Error(), Transient: true}
	}
	defer drainClose(resp.Body)

	if err := p.classifyStatus(resp.StatusCode); err != nil {
		return Judgment{}, err
	}

	var sr scoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return Judgment{}, &ProviderError{Message: "malformed score response", Transient: false}
	}
	return Judgment{
		Score:      NormalizeScore(sr.Score),
		Confidence: clamp(sr.Confidence, 0, 1),
	}, nil
}

// classifyStatus maps an HTTP status code to the scorer error taxonomy.
func (p *Provider) classifyStatus(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return ErrInvalidCredential
	case code == http.StatusTooManyRequests:
		return ErrRateLimited
	case code >= 500:
		return &ProviderError{StatusCode: code, Message: "server error", Transient: true}
	default:
		return &ProviderError{StatusCode: code, Message: "request rejected", Transient: false}
	}
}

// NormalizeScore maps the provider's raw 1..10 scale onto [-1, 1] with 5.5
// as neutral, then clamps.
func NormalizeScore(raw float64) float64 {
	return clamp((raw-5.5)/4.5, -1, 1)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func drainClose(rc io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(rc, 4096))
	_ = rc.Close()
}
