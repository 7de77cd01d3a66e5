// Package classifier calls the remote classification service for a sample.
package classifier

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/dwsmith1983/sampleflow/pkg/types"
	"github.com/sony/gobreaker"
)

// DefaultTimeout bounds one classification request.
const DefaultTimeout = 30 * time.Second

// maxResponseBytes caps how much of a response body is read.
const maxResponseBytes = 1 << 20

// Interface is the classification capability used by the pipeline.
type Interface interface {
	Classify(ctx context.Context, samplePath string) (*types.Predictions, error)
}

var _ Interface = (*Client)(nil)

// Client posts base64-encoded sample bytes to the classifier endpoint.
type Client struct {
	httpClient *http.Client
	url        string
	token      string
	timeout    time.Duration
	breaker    *gobreaker.CircuitBreaker
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithBreaker wraps calls in a circuit breaker built from cfg.
func WithBreaker(cfg BreakerConfig) Option {
	return func(c *Client) { c.breaker = newBreaker(cfg, c) }
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a classifier client for url. A zero timeout uses DefaultTimeout.
func New(url, token string, timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := &Client{
		httpClient: &http.Client{},
		url:        url,
		token:      token,
		timeout:    timeout,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type classifyRequest struct {
	FileBytes string `json:"file_bytes"`
}

// Classify reads the sample and returns the service's verdict. A benign
// label is a successful result; every failure is an *Error.
func (c *Client) Classify(ctx context.Context, samplePath string) (*types.Predictions, error) {
	data, err := os.ReadFile(samplePath)
	if err != nil {
		return nil, &Error{Kind: KindRead, Err: err}
	}
	body, err := json.Marshal(classifyRequest{FileBytes: base64.StdEncoding.EncodeToString(data)})
	if err != nil {
		return nil, &Error{Kind: KindRead, Detail: "encoding request", Err: err}
	}

	if c.breaker == nil {
		return c.post(ctx, body)
	}

	res, err := c.breaker.Execute(func() (interface{}, error) {
		return c.post(ctx, body)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, &Error{Kind: KindUnavailable, Detail: "circuit open", Err: err}
		}
		return nil, err
	}
	return res.(*types.Predictions), nil
}

func (c *Client) post(ctx context.Context, body []byte) (*types.Predictions, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Kind: KindTransport, Detail: "creating request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &Error{Kind: KindTimeout, Err: err}
		}
		return nil, &Error{Kind: KindTransport, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &Error{Kind: KindTimeout, Err: err}
		}
		return nil, &Error{Kind: KindTransport, Detail: "reading response", Err: err}
	}
	c.logger.Debug("classifier responded", "status", resp.StatusCode, "duration", time.Since(start))

	if resp.StatusCode >= 400 {
		return nil, &Error{Kind: KindHTTPStatus, StatusCode: resp.StatusCode, Detail: truncate(string(respBody))}
	}

	return decodePredictions(respBody)
}

func truncate(s string) string {
	const limit = 512
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}

// wireResponse mirrors the service payload. Family fields may arrive either as
// a single value or as a list.
type wireResponse struct {
	PredictionsFile   *string         `json:"predictions_file"`
	ProbabilityFile   *float64        `json:"probability_file"`
	PredictionsFamily json.RawMessage `json:"predictions_family"`
	ProbabilityFamily json.RawMessage `json:"probability_family"`
}

func decodePredictions(body []byte) (*types.Predictions, error) {
	var wire wireResponse
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, &Error{Kind: KindMalformed, Detail: truncate(string(body)), Err: err}
	}
	if wire.PredictionsFile == nil || *wire.PredictionsFile == "" {
		return nil, &Error{Kind: KindMissingLabel, Detail: "predictions_file"}
	}

	labels, err := oneOrMany[string](wire.PredictionsFamily)
	if err != nil {
		return nil, &Error{Kind: KindMalformed, Detail: "predictions_family", Err: err}
	}
	probs, err := oneOrMany[float64](wire.ProbabilityFamily)
	if err != nil {
		return nil, &Error{Kind: KindMalformed, Detail: "probability_family", Err: err}
	}

	return &types.Predictions{
		PrimaryLabel:        *wire.PredictionsFile,
		PrimaryProbability:  wire.ProbabilityFile,
		FamilyLabels:        labels,
		FamilyProbabilities: probs,
	}, nil
}

// oneOrMany decodes either a JSON array of T or a single T into a slice.
func oneOrMany[T any](raw json.RawMessage) ([]T, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	if raw[0] == '[' {
		var many []T
		if err := json.Unmarshal(raw, &many); err != nil {
			return nil, err
		}
		return many, nil
	}
	var one T
	if err := json.Unmarshal(raw, &one); err != nil {
		return nil, fmt.Errorf("decoding scalar: %w", err)
	}
	return []T{one}, nil
}
