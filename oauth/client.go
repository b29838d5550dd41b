package oauth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
)

const maxProfileBytes = 1 << 20

// ErrUpstreamUnavailable wraps breaker rejections and upstream 5xx responses.
var ErrUpstreamUnavailable = errors.New("oauth upstream unavailable")

// BreakerConfig tunes the circuit breaker guarding profile fetches.
type BreakerConfig struct {
	MaxRequests  uint32
	Interval     time.Duration
	Timeout      time.Duration
	FailureRatio float64
	MinRequests  uint32
}

// DefaultBreakerConfig trips at 50% failures over at least 5 calls and
// probes again after 30s.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:  1,
		Interval:     60 * time.Second,
		Timeout:      30 * time.Second,
		FailureRatio: 0.5,
		MinRequests:  5,
	}
}

// profileFetcher performs authenticated GETs through a per-provider breaker.
type profileFetcher struct {
	cb     *gobreaker.CircuitBreaker[[]byte]
	logger *slog.Logger
}

func newProfileFetcher(name string, cfg BreakerConfig, logger *slog.Logger) *profileFetcher {
	if logger == nil {
		logger = slog.Default()
	}
	settings := gobreaker.Settings{
		Name:        "oauth-" + name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
		IsSuccessful: func(err error) bool {
			var ce *clientError
			return err == nil || errors.As(err, &ce)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("oauth circuit breaker state change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	}
	return &profileFetcher{
		cb:     gobreaker.NewCircuitBreaker[[]byte](settings),
		logger: logger,
	}
}

func (f *profileFetcher) fetch(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	body, err := f.cb.Execute(func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxProfileBytes))
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			return nil, fmt.Errorf("%w: status %d", ErrUpstreamUnavailable, resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			// 4xx does not count toward tripping the breaker.
			return nil, &clientError{status: resp.StatusCode}
		}
		return data, nil
	})
	if err != nil {
		var ce *clientError
		if errors.As(err, &ce) {
			return nil, fmt.Errorf("profile request failed with status %d", ce.status)
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
		}
		return nil, err
	}
	return body, nil
}

type clientError struct{ status int }

func (e *clientError) Error() string { return fmt.Sprintf("upstream status %d", e.status) }
