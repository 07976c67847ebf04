package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ppiankov/bsmeter/internal/model"
	"github.com/ppiankov/bsmeter/internal/util"
)

// newHTTPClient builds the client used by HTTP-based adapters
func newHTTPClient(config Config) *http.Client {
	return &http.Client{
		Timeout:   config.Timeout,
		Transport: util.NewTransport(config.HTTPProxy, config.HTTPSProxy),
	}
}

// statusError maps a non-2xx response to the provider error taxonomy
func statusError(provider string, status int, retryAfter time.Duration, detail string) error {
	err := fmt.Errorf("API error (%d): %s", status, strings.TrimSpace(detail))
	if status == http.StatusTooManyRequests {
		return &model.RateLimitError{Provider: provider, RetryAfter: retryAfter, Err: err}
	}
	return &model.TransportError{Provider: provider, StatusCode: status, Err: err}
}

// requestError classifies a failed round trip
func requestError(ctx context.Context, provider string, err error) error {
	if ctxErr := contextError(ctx); ctxErr != nil {
		return ctxErr
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &model.TimeoutError{Provider: provider}
	}
	return &model.TransportError{Provider: provider, Err: err}
}

// parseRetryAfter reads a Retry-After header given in seconds
func parseRetryAfter(h http.Header) time.Duration {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
