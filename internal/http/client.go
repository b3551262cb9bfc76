// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package http wraps the stdlib HTTP client for the JSON APIs of the network based location
// sources.
package http

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"reflect"
	"runtime"
	"time"

	"github.com/wneessen/geofix/internal/logger"
)

// DefaultTimeout bounds the lifetime of the underlying http.Client requests.
const DefaultTimeout = time.Second * 10

var (
	// version is set at build time
	version = "dev"

	// UserAgent identifies geofix towards the location APIs
	UserAgent = fmt.Sprintf("geofix/%s (%s/%s; +https://github.com/wneessen/geofix/)",
		version, runtime.GOOS, runtime.GOARCH)

	ErrNonPointerTarget = errors.New("target must be a non-nil pointer")
)

// Client is a http.Client that decodes JSON responses.
type Client struct {
	*http.Client
	logger *logger.Logger
}

// apiRequest describes a single API call.
type apiRequest struct {
	method  string
	url     string
	body    io.Reader
	headers map[string]string
	timeout time.Duration
}

func New(log *logger.Logger) *Client {
	transport := &http.Transport{
		Proxy:           http.ProxyFromEnvironment,
		TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12},
	}
	return &Client{
		Client: &http.Client{Timeout: DefaultTimeout, Transport: transport},
		logger: log,
	}
}

// GetWithTimeout sends a GET request with the given query and headers and decodes the JSON
// response into target. It returns the HTTP status code of the response.
func (c *Client) GetWithTimeout(ctx context.Context, endpoint string, target any, query url.Values,
	headers map[string]string, timeout time.Duration,
) (int, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return 0, fmt.Errorf("failed to parse URL: %w", err)
	}
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return c.call(ctx, apiRequest{
		method:  http.MethodGet,
		url:     u.String(),
		headers: headers,
		timeout: timeout,
	}, target)
}

// PostJSON posts payload as JSON and decodes the JSON response into target. It returns the HTTP
// status code of the response.
func (c *Client) PostJSON(ctx context.Context, endpoint string, target, payload any, timeout time.Duration) (int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("failed to encode JSON payload: %w", err)
	}
	return c.call(ctx, apiRequest{
		method:  http.MethodPost,
		url:     endpoint,
		body:    bytes.NewReader(body),
		headers: map[string]string{"Content-Type": "application/json"},
		timeout: timeout,
	}, target)
}

func (c *Client) call(ctx context.Context, r apiRequest, target any) (int, error) {
	if v := reflect.ValueOf(target); v.Kind() != reflect.Pointer || v.IsNil() {
		return 0, ErrNonPointerTarget
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, r.method, r.url, r.body)
	if err != nil {
		return 0, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("User-Agent", UserAgent)
	for key, value := range r.headers {
		req.Header.Set(key, value)
	}

	resp, err := c.Do(req)
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return 0, err
	case err != nil:
		return 0, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.Warn("failed to close HTTP response body", logger.Err(err))
		}
	}()

	if err = json.NewDecoder(resp.Body).Decode(target); err != nil {
		return resp.StatusCode, fmt.Errorf("failed to decode JSON response: %w", err)
	}
	return resp.StatusCode, nil
}
