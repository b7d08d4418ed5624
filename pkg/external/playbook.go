package external

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

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/resistance-prediction-engine/internal/domain"
)

// NextLineRequest is the query sent to the resistance playbook service.
type NextLineRequest struct {
	Disease            string   `json:"disease"`
	DetectedResistance []string `json:"detected_resistance"`
	CurrentRegimen     string   `json:"current_regimen,omitempty"`
	CurrentDrugClass   string   `json:"current_drug_class,omitempty"`
	TreatmentLine      int      `json:"treatment_line"`
	PriorTherapies     []string `json:"prior_therapies,omitempty"`
	PatientID          string   `json:"patient_id,omitempty"`
}

// Handoff is an action the playbook wants a downstream agent to take.
type Handoff struct {
	Action  string         `json:"action"`
	Payload map[string]any `json:"payload,omitempty"`
}

// NextLineResponse is the playbook service answer.
type NextLineResponse struct {
	Alternatives       []domain.NextLineOption `json:"alternatives"`
	DownstreamHandoffs map[string]Handoff      `json:"downstream_handoffs,omitempty"`
}

// PlaybookConfig represents configuration for the playbook client
type PlaybookConfig struct {
	BaseURL     string
	APIKey      string
	Timeout     time.Duration
	RateLimit   int // requests per second
	MaxRequests uint32
	Interval    time.Duration
	OpenTimeout time.Duration
}

// PlaybookConfigFrom converts the application settings.
func PlaybookConfigFrom(cfg domain.PlaybookConfig) PlaybookConfig {
	return PlaybookConfig{
		BaseURL:     cfg.BaseURL,
		APIKey:      cfg.APIKey,
		Timeout:     cfg.Timeout,
		RateLimit:   cfg.RateLimit,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		OpenTimeout: cfg.OpenTimeout,
	}
}

// ErrPlaybookUnavailable is returned while the circuit breaker is open.
var ErrPlaybookUnavailable = errors.New("playbook service unavailable (circuit breaker open)")

// PlaybookClient calls the resistance playbook service for next-line therapy options.
type PlaybookClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	rateLimit  *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	cache      *PlaybookCache
	logger     *logrus.Logger
}

// NewPlaybookClient creates a new playbook client. cache may be nil.
func NewPlaybookClient(config PlaybookConfig, cache *PlaybookCache, logger *logrus.Logger) *PlaybookClient {
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.RateLimit == 0 {
		config.RateLimit = 5
	}

	return &PlaybookClient{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		apiKey:  config.APIKey,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		rateLimit: rate.NewLimiter(rate.Limit(config.RateLimit), 1),
		breaker:   newBreaker("Playbook", config, logger),
		cache:     cache,
		logger:    logger,
	}
}

// GetNextLineOptions asks the playbook service for alternatives to the current regimen.
func (c *PlaybookClient) GetNextLineOptions(ctx context.Context, req *NextLineRequest) (*NextLineResponse, error) {
	if req == nil {
		return nil, fmt.Errorf("next-line request cannot be nil")
	}

	if c.cache != nil {
		if cached, found, err := c.cache.Get(ctx, req); err == nil && found {
			c.logger.WithField("disease", req.Disease).Debug("Playbook cache hit")
			return cached, nil
		}
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.fetch(ctx, req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, ErrPlaybookUnavailable
		}
		return nil, fmt.Errorf("playbook query failed: %w", err)
	}

	resp := result.(*NextLineResponse)

	if c.cache != nil {
		if cacheErr := c.cache.Set(ctx, req, resp, 0); cacheErr != nil {
			c.logger.WithError(cacheErr).Warn("Failed to cache playbook response")
		}
	}

	return resp, nil
}

// State returns the circuit breaker state.
func (c *PlaybookClient) State() gobreaker.State {
	return c.breaker.State()
}

// Stats returns the circuit breaker counts.
func (c *PlaybookClient) Stats() gobreaker.Counts {
	return c.breaker.Counts()
}

func (c *PlaybookClient) fetch(ctx context.Context, req *NextLineRequest) (*NextLineResponse, error) {
	if err := c.rateLimit.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait failed: %w", err)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/next-line-options", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("playbook service returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out NextLineResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	c.logger.WithFields(logrus.Fields{
		"disease":      req.Disease,
		"alternatives": len(out.Alternatives),
	}).Debug("Playbook options received")

	return &out, nil
}
