// Package remote escalates low-confidence extractions to a hosted
// document-analysis service. The remote path is strictly additive: every
// failure mode (disabled, unreachable, timeout, unusable response) yields
// nil results and a nil error so the pipeline continues with local readings.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Config struct {
	Enabled  bool
	Endpoint string
	APIKey   string
	Timeout  time.Duration // per-request cap; default 15s, single attempt
}

// FieldGuess is one remote reading mapped onto a canonical template field.
type FieldGuess struct {
	Value      string
	Confidence float64 // 0..100, same scale as local readings
}

type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// Analyze posts the original capture and maps the returned key-value pairs
// onto the template's field names. A nil map with a nil error means
// "nothing to merge"; callers must treat that as a normal outcome.
func (c *Client) Analyze(ctx context.Context, imageData []byte, fieldNames []string) (map[string]FieldGuess, error) {
	if !c.cfg.Enabled {
		c.logger.Debug("remote.disabled")
		return nil, nil
	}

	reqID := uuid.New().String()
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(imageData))
	if err != nil {
		c.logger.Warn("remote.build_request_error", "req_id", reqID, "error", err)
		return nil, nil
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	if c.cfg.APIKey != "" {
		req.Header.Set("Ocp-Apim-Subscription-Key", c.cfg.APIKey)
	}

	c.logger.Info("remote.request",
		"req_id", reqID,
		"url", c.cfg.Endpoint,
		"content_length", len(imageData),
	)

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("remote.unreachable",
			"req_id", reqID,
			"error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return nil, nil
	}
	defer func(body io.ReadCloser) {
		if err := body.Close(); err != nil {
			c.logger.Warn("remote.response_body_close_error", "req_id", reqID, "error", err)
		}
	}(resp.Body)

	raw, _ := io.ReadAll(resp.Body)
	c.logger.Info("remote.response",
		"req_id", reqID,
		"status", resp.StatusCode,
		"bytes", len(raw),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode/100 != 2 {
		c.logger.Warn("remote.non_2xx", "req_id", reqID, "status", resp.StatusCode)
		return nil, nil
	}

	var doc documentResult
	if err := json.Unmarshal(raw, &doc); err != nil {
		c.logger.Warn("remote.decode_error", "req_id", reqID, "error", err)
		return nil, nil
	}

	guesses := mapPairs(doc.AnalyzeResult.KeyValuePairs, fieldNames)
	if len(guesses) == 0 {
		c.logger.Info("remote.no_usable_pairs", "req_id", reqID,
			"pairs", len(doc.AnalyzeResult.KeyValuePairs))
		return nil, nil
	}

	c.logger.Info("remote.ok",
		"req_id", reqID,
		"mapped_fields", len(guesses),
		"pairs", len(doc.AnalyzeResult.KeyValuePairs),
	)
	return guesses, nil
}

// mapPairs folds raw key-value pairs onto canonical field names. When two
// labels land on the same field, the higher-confidence value wins.
func mapPairs(pairs []keyValuePair, fieldNames []string) map[string]FieldGuess {
	guesses := make(map[string]FieldGuess)
	for _, kv := range pairs {
		name, ok := canonicalField(kv.Key.Content, fieldNames)
		if !ok {
			continue
		}
		value := strings.TrimSpace(kv.Value.Content)
		if value == "" {
			continue
		}
		conf := kv.Confidence * 100
		if prev, exists := guesses[name]; exists && prev.Confidence >= conf {
			continue
		}
		guesses[name] = FieldGuess{Value: value, Confidence: conf}
	}
	return guesses
}
