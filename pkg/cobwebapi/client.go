// Package cobwebapi talks to the three routing backend services: route
// planning, name search and nearest node search.
package cobwebapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"tripplan/internal/cache"
	"tripplan/internal/domain"
)

// ErrTimeout is wrapped by failures caused by the shared timeout.
var ErrTimeout = errors.New("request timed out")

type Endpoint int

const (
	EndpointRoute Endpoint = iota
	EndpointNameSearch
	EndpointNearestSearch
)

func (e Endpoint) String() string {
	switch e {
	case EndpointRoute:
		return "route"
	case EndpointNameSearch:
		return "namesearch"
	case EndpointNearestSearch:
		return "nearestsearch"
	default:
		return fmt.Sprintf("endpoint(%d)", int(e))
	}
}

// StatusError is a failed call. Status is the HTTP status code, or 0 when
// no response was received.
type StatusError struct {
	Endpoint Endpoint
	Status   int
	Err      error
}

func (e *StatusError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("%s: %v", e.Endpoint, e.Err)
	}
	return fmt.Sprintf("%s: status %d: %v", e.Endpoint, e.Status, e.Err)
}

func (e *StatusError) Unwrap() error { return e.Err }

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status
	}
	return 0
}

// ResponseCache stores decoded backend responses. *cache.RedisCache
// implements it.
type ResponseCache interface {
	GetJSON(ctx context.Context, key string, dest any) (bool, error)
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
}

type Config struct {
	RouteURL   string
	NameURL    string
	NearestURL string
	Timeout    time.Duration
}

type Client struct {
	urls       map[Endpoint]string
	httpClient *http.Client
	cache      ResponseCache
	ttl        time.Duration
	logger     *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Client {
	return &Client{
		urls: map[Endpoint]string{
			EndpointRoute:         cfg.RouteURL,
			EndpointNameSearch:    cfg.NameURL,
			EndpointNearestSearch: cfg.NearestURL,
		},
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger: logger.With("component", "cobweb_client"),
	}
}

// WithCache enables response caching for ttl.
func (c *Client) WithCache(rc ResponseCache, ttl time.Duration) *Client {
	c.cache = rc
	c.ttl = ttl
	return c
}

// Do posts payload as JSON to endpoint and decodes the response into dest.
// Failures are returned as *StatusError and are never retried.
func (c *Client) Do(ctx context.Context, endpoint Endpoint, payload, dest any) error {
	url, ok := c.urls[endpoint]
	if !ok || url == "" {
		return &StatusError{Endpoint: endpoint, Err: errors.New("no url configured")}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return &StatusError{Endpoint: endpoint, Err: fmt.Errorf("encoding payload: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return &StatusError{Endpoint: endpoint, Err: fmt.Errorf("creating request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			err = fmt.Errorf("%w: %w", ErrTimeout, err)
		}
		c.logger.Warn("backend request failed", "endpoint", endpoint.String(), "error", err,
			"duration_ms", time.Since(start).Milliseconds())
		return &StatusError{Endpoint: endpoint, Err: fmt.Errorf("executing request: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.logger.Warn("backend returned error status", "endpoint", endpoint.String(), "status", resp.StatusCode,
			"duration_ms", time.Since(start).Milliseconds())
		return &StatusError{
			Endpoint: endpoint,
			Status:   resp.StatusCode,
			Err:      fmt.Errorf("unexpected status code: %d %s", resp.StatusCode, bytes.TrimSpace(snippet)),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return &StatusError{Endpoint: endpoint, Status: resp.StatusCode, Err: fmt.Errorf("decoding response: %w", err)}
	}

	c.logger.Debug("backend request", "endpoint", endpoint.String(), "duration_ms", time.Since(start).Milliseconds())
	return nil
}

func (c *Client) PlanRoute(ctx context.Context, req domain.RouteRequest) (*domain.RoutingResponse, error) {
	var resp domain.RoutingResponse
	if err := c.cached(ctx, cache.KeyRoute(req), EndpointRoute, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) SearchName(ctx context.Context, name string, amount int) ([]domain.NameMatch, error) {
	var resp domain.NameSearchResponse
	payload := domain.NameSearchRequest{Name: name, Amount: amount}
	if err := c.cached(ctx, cache.KeyNameSearch(name, amount), EndpointNameSearch, payload, &resp); err != nil {
		return nil, err
	}
	return resp.Matches, nil
}

func (c *Client) SearchNearest(ctx context.Context, lat, lon float64) (domain.NearestMatch, error) {
	var resp domain.NearestSearchResponse
	payload := domain.NearestSearchRequest{Latitude: lat, Longitude: lon}
	if err := c.cached(ctx, cache.KeyNearest(lat, lon), EndpointNearestSearch, payload, &resp); err != nil {
		return domain.NearestMatch{}, err
	}
	return resp.NearestMatch, nil
}

// cached serves dest from the response cache when possible. Cache errors
// only cost a backend round trip.
func (c *Client) cached(ctx context.Context, key string, endpoint Endpoint, payload, dest any) error {
	if c.cache != nil {
		if hit, err := c.cache.GetJSON(ctx, key, dest); err != nil {
			c.logger.Warn("response cache read failed", "key", key, "error", err)
		} else if hit {
			return nil
		}
	}

	if err := c.Do(ctx, endpoint, payload, dest); err != nil {
		return err
	}

	if c.cache != nil {
		if err := c.cache.SetJSON(ctx, key, dest, c.ttl); err != nil {
			c.logger.Warn("response cache write failed", "key", key, "error", err)
		}
	}
	return nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
