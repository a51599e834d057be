package trust

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/toanmango432/stage-mangobiz-sub004/internal/logging"
)

const maxResponseBytes = 64 << 10

// HTTPValidator posts a Request as JSON to the authority URL. A 2xx or
// 4xx reply carrying a status is a verdict; 5xx replies and transport
// failures are errors.
type HTTPValidator struct {
	url        string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewHTTPValidator creates an HTTPValidator.
func NewHTTPValidator(url string, timeout time.Duration, logger *slog.Logger) *HTTPValidator {
	return &HTTPValidator{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logging.Component(logger, "trust.http"),
	}
}

// Validate implements Validator.
func (v *HTTPValidator) Validate(ctx context.Context, r Request) (Response, error) {
	body, err := json.Marshal(r)
	if err != nil {
		return Response{}, fmt.Errorf("trust: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.url, bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("trust: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("trust: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return Response{}, fmt.Errorf("trust: unexpected status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Response{}, fmt.Errorf("trust: read body: %w", err)
	}
	var out Response
	if err := json.Unmarshal(raw, &out); err != nil {
		return Response{}, fmt.Errorf("trust: decode json (status %d): %w", resp.StatusCode, err)
	}
	if out.Status == "" {
		return Response{}, fmt.Errorf("trust: status %d without verdict", resp.StatusCode)
	}

	v.logger.DebugContext(ctx, "trust response",
		slog.Int("http_status", resp.StatusCode),
		slog.String("status", string(out.Status)))
	return out, nil
}
