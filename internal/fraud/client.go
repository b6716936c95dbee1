package fraud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// DefaultTimeout is deliberately small; scoring is on the write path.
const DefaultTimeout = 2 * time.Second

// Config configures the HTTP client.
type Config struct {
	// BaseURL of the scorer, e.g. "http://bastion:8080". Empty disables
	// scoring entirely.
	BaseURL string

	// APIKey is sent as a bearer token when set.
	APIKey string

	// Timeout is the hard upper bound for one call. Zero means
	// DefaultTimeout.
	Timeout time.Duration

	// Fallback is the decision used when the remote is unreachable or
	// answers non-2xx. Zero value means Approve.
	Fallback Decision
}

// Client is the HTTP Scorer.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger
}

var _ Scorer = (*Client)(nil)

// NewClient creates the client. A nil logger is replaced with a no-op.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Fallback == "" {
		cfg.Fallback = Approve
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// Enabled reports whether a base URL is configured.
func (c *Client) Enabled() bool {
	return c.cfg.BaseURL != ""
}

// scoreRequest is the POST /score body.
type scoreRequest struct {
	TransactionID    string            `json:"transaction_id"`
	CustomerID       string            `json:"customer_id"`
	Amount           float64           `json:"amount"`
	Currency         string            `json:"currency"`
	MerchantID       string            `json:"merchant_id,omitempty"`
	MerchantCategory string            `json:"merchant_category,omitempty"`
	Channel          string            `json:"channel"`
	Country          string            `json:"country,omitempty"`
	Timestamp        string            `json:"timestamp"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}

// scoreResponse is the POST /score reply.
type scoreResponse struct {
	RiskScore float64  `json:"risk_score"`
	Action    string   `json:"action"`
	Reasons   []string `json:"reasons"`
}

// Score calls POST /score with the configured hard timeout. A disabled
// client approves with a "disabled" reason and zero latency; any
// failure returns the fallback decision with risk level UNKNOWN.
func (c *Client) Score(ctx context.Context, req Request) Score {
	if !c.Enabled() {
		return Score{Decision: Approve, RiskLevel: RiskLow, Reasons: []string{"disabled"}}
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	amount, _ := req.Amount.Amount.Float64()
	body, err := json.Marshal(scoreRequest{
		TransactionID:    req.TransactionID,
		CustomerID:       req.CustomerID,
		Amount:           amount,
		Currency:         string(req.Amount.Currency),
		MerchantID:       req.MerchantID,
		MerchantCategory: req.MerchantCategory,
		Channel:          req.Channel,
		Country:          req.Country,
		Timestamp:        req.Timestamp.UTC().Format(time.RFC3339),
		Metadata:         req.Metadata,
	})
	if err != nil {
		return c.fallback(req, err)
	}

	start := time.Now()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/score", bytes.NewReader(body))
	if err != nil {
		return c.fallback(req, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return c.fallback(req, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.fallback(req, fmt.Errorf("scorer returned %s", resp.Status))
	}

	var sr scoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return c.fallback(req, err)
	}

	decision := Decision(sr.Action)
	switch decision {
	case Approve, Review, Block:
	default:
		return c.fallback(req, fmt.Errorf("scorer returned unknown action %q", sr.Action))
	}

	return Score{
		Score:     sr.RiskScore,
		Decision:  decision,
		RiskLevel: riskLevelFor(sr.RiskScore),
		Reasons:   sr.Reasons,
		Latency:   time.Since(start),
	}
}

func (c *Client) fallback(req Request, cause error) Score {
	c.logger.Warn("fraud scorer unavailable, applying fallback",
		zap.String("transaction_id", req.TransactionID),
		zap.String("fallback", string(c.cfg.Fallback)),
		zap.Error(cause))
	return Score{
		Decision:  c.cfg.Fallback,
		RiskLevel: RiskUnknown,
		Reasons:   []string{"unavailable"},
	}
}

// Healthy calls GET /health and reports a 200 answer.
func (c *Client) Healthy(ctx context.Context) bool {
	if !c.Enabled() {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/health", nil)
	if err != nil {
		return false
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
