// Package versionstore is a thin HTTP client for a LakeFS-like version
// store: branch/tag/commit/object operations backing the commit pipeline
// and Git bridge. No example repo in this codebase's lineage ships a LakeFS
// SDK, so the wire client is hand-written against net/http, reusing the
// shared-client-plus-jittered-retry idiom this codebase's S3 helpers use.
package versionstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"
)

// sharedHTTPClient mirrors storage.sharedHTTPClient: one pooled client
// reused by every Client instance.
var sharedHTTPClient = &http.Client{
	Timeout: 30 * time.Second,
	Transport: &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 20,
		IdleConnTimeout:     90 * time.Second,
	},
}

// Config configures a Client.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Timeout   time.Duration
	Retries   int
}

// Client talks to a LakeFS-compatible Version Store over its HTTP API.
type Client struct {
	endpoint  string
	accessKey string
	secretKey string
	http      *http.Client
	retries   int
}

// New builds a Client against a LakeFS-compatible endpoint.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	retries := cfg.Retries
	if retries == 0 {
		retries = 3
	}
	httpClient := sharedHTTPClient
	if timeout != sharedHTTPClient.Timeout {
		c := *sharedHTTPClient
		c.Timeout = timeout
		httpClient = &c
	}
	return &Client{
		endpoint:  cfg.Endpoint,
		accessKey: cfg.AccessKey,
		secretKey: cfg.SecretKey,
		http:      httpClient,
		retries:   retries,
	}
}

// do executes an HTTP request against the version store with basic-auth
// credentials and retries Transient failures up to c.retries times with
// jittered exponential backoff.
func (c *Client) do(ctx context.Context, method, path string, body io.Reader, out interface{}) error {
	var bodyBytes []byte
	if body != nil {
		b, err := io.ReadAll(body)
		if err != nil {
			return fmt.Errorf("versionstore: reading request body: %w", err)
		}
		bodyBytes = b
	}

	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * 100 * time.Millisecond
			jitter := time.Duration(rand.Int63n(int64(backoff) + 1))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff + jitter):
			}
		}

		var reqBody io.Reader
		if bodyBytes != nil {
			reqBody = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, reqBody)
		if err != nil {
			return fmt.Errorf("versionstore: building request: %w", err)
		}
		req.SetBasicAuth(c.accessKey, c.secretKey)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("%w: %v", ErrTransient, err)
			continue
		}

		err = classifyAndDecode(resp, out)
		resp.Body.Close()
		if err == nil {
			return nil
		}
		if err == ErrTransient {
			lastErr = err
			continue
		}
		return err
	}
	return lastErr
}

func classifyAndDecode(resp *http.Response, out interface{}) error {
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode == http.StatusConflict:
		return ErrConflict
	case resp.StatusCode == http.StatusPreconditionFailed:
		return ErrPreconditionFailed
	case resp.StatusCode >= 500:
		return ErrTransient
	case resp.StatusCode >= 400:
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("versionstore: request failed (%d): %s", resp.StatusCode, string(data))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func jsonBody(v interface{}) (io.Reader, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(b), nil
}
