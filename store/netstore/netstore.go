// Package netstore implements the network (RPC) StorageBackend (spec
// §4.2, "net" scheme): chunked HTTP upload/download against a remote
// peer, exponential backoff with jitter, and a circuit breaker. gRPC
// wire adapters are explicitly out of scope (spec.md §1), so this
// speaks chunked HTTP via valyala/fasthttp instead, the same transport
// the teacher's ais/backend/http.go uses for its own HTTP backend
// provider.
/*
 * Copyright (c) 2024, Kiln Authors. All rights reserved.
 */
package netstore

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"math/rand"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/kilnstore/kiln/cmn"
	"github.com/kilnstore/kiln/store"
)

const chunkSize = 64 * 1024 // spec §4.2: "chunked payload (≤64 KiB/chunk)"

// Config controls retry/backoff and breaker tuning.
type Config struct {
	BaseURL         string
	MaxRetries      int           // default 5, per spec §4.2
	BaseBackoff     time.Duration // default 100ms
	MaxBackoff      time.Duration // default 5s
	BreakerThreshold int          // consecutive failures to trip, default 5
	BreakerCooldown time.Duration // default 30s
	OpTimeout       time.Duration // default 30s, per spec §5
}

func (c *Config) setDefaults() {
	if c.MaxRetries == 0 {
		c.MaxRetries = 5
	}
	if c.BaseBackoff == 0 {
		c.BaseBackoff = 100 * time.Millisecond
	}
	if c.MaxBackoff == 0 {
		c.MaxBackoff = 5 * time.Second
	}
	if c.BreakerThreshold == 0 {
		c.BreakerThreshold = 5
	}
	if c.BreakerCooldown == 0 {
		c.BreakerCooldown = 30 * time.Second
	}
	if c.OpTimeout == 0 {
		c.OpTimeout = 30 * time.Second
	}
}

type Backend struct {
	cfg     Config
	client  *fasthttp.Client
	breaker *Breaker
}

// interface guard
var _ store.Backend = (*Backend)(nil)

func New(cfg Config) *Backend {
	cfg.setDefaults()
	return &Backend{
		cfg:     cfg,
		client:  &fasthttp.Client{Name: "kiln-netstore"},
		breaker: NewBreaker(cfg.BreakerThreshold, cfg.BreakerCooldown),
	}
}

func (b *Backend) Scheme() string { return cmn.SchemeNet }

// State exposes the backend's circuit breaker state for health checks
// (SPEC_FULL.md's supplemented circuit-breaker introspection feature).
func (b *Backend) State() CircuitState { return b.breaker.State() }

func (b *Backend) objectURL(uri cmn.BlobURI) string {
	return b.cfg.BaseURL + "/" + uri.ContainerID + "/" + uri.BlobName
}

func (b *Backend) Save(ctx context.Context, uri cmn.BlobURI, r io.Reader) (string, int64, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", 0, err
	}
	err = b.withRetry(ctx, func() error {
		req := fasthttp.AcquireRequest()
		resp := fasthttp.AcquireResponse()
		defer fasthttp.ReleaseRequest(req)
		defer fasthttp.ReleaseResponse(resp)

		req.Header.SetMethod(fasthttp.MethodPut)
		req.SetRequestURI(b.objectURL(uri))
		req.Header.Set("X-Kiln-Checksum", "")
		writeChunked(req, data)

		if err := b.doWithTimeout(req, resp); err != nil {
			return err
		}
		if resp.StatusCode() >= 500 {
			return cmn.NewUnavailable("netstore: remote returned %d", resp.StatusCode())
		}
		if resp.StatusCode() >= 400 {
			return cmn.NewValidationFailed("netstore: remote returned %d", resp.StatusCode())
		}
		return nil
	})
	if err != nil {
		return "", 0, err
	}
	return uri.String(), int64(len(data)), nil
}

// writeChunked frames the body the way spec §4.2 describes: a sequence
// of ≤64 KiB chunks. The body is set via SetBodyStream with an unknown
// (negative) size, so fasthttp sends it with chunked transfer encoding,
// reading it through a bufio.Reader sized to chunkSize.
func writeChunked(req *fasthttp.Request, data []byte) {
	req.SetBodyStream(bufio.NewReaderSize(bytes.NewReader(data), chunkSize), -1)
}

func (b *Backend) Load(ctx context.Context, uri cmn.BlobURI) (io.ReadCloser, error) {
	var body []byte
	err := b.withRetry(ctx, func() error {
		req := fasthttp.AcquireRequest()
		resp := fasthttp.AcquireResponse()
		defer fasthttp.ReleaseRequest(req)
		defer fasthttp.ReleaseResponse(resp)

		req.Header.SetMethod(fasthttp.MethodGet)
		req.SetRequestURI(b.objectURL(uri))

		if err := b.doWithTimeout(req, resp); err != nil {
			return err
		}
		if resp.StatusCode() == fasthttp.StatusNotFound {
			return cmn.NewNotFound("blob not found: %s", uri)
		}
		if resp.StatusCode() >= 500 {
			return cmn.NewUnavailable("netstore: remote returned %d", resp.StatusCode())
		}
		if resp.StatusCode() >= 400 {
			return cmn.NewValidationFailed("netstore: remote returned %d", resp.StatusCode())
		}
		body = append([]byte(nil), resp.Body()...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(body)), nil
}

func (b *Backend) Delete(ctx context.Context, uri cmn.BlobURI) error {
	return b.withRetry(ctx, func() error {
		req := fasthttp.AcquireRequest()
		resp := fasthttp.AcquireResponse()
		defer fasthttp.ReleaseRequest(req)
		defer fasthttp.ReleaseResponse(resp)

		req.Header.SetMethod(fasthttp.MethodDelete)
		req.SetRequestURI(b.objectURL(uri))

		if err := b.doWithTimeout(req, resp); err != nil {
			return err
		}
		if resp.StatusCode() >= 500 {
			return cmn.NewUnavailable("netstore: remote returned %d", resp.StatusCode())
		}
		return nil
	})
}

func (b *Backend) Exists(ctx context.Context, uri cmn.BlobURI) (bool, error) {
	var exists bool
	err := b.withRetry(ctx, func() error {
		req := fasthttp.AcquireRequest()
		resp := fasthttp.AcquireResponse()
		defer fasthttp.ReleaseRequest(req)
		defer fasthttp.ReleaseResponse(resp)

		req.Header.SetMethod(fasthttp.MethodHead)
		req.SetRequestURI(b.objectURL(uri))

		if err := b.doWithTimeout(req, resp); err != nil {
			return err
		}
		switch {
		case resp.StatusCode() == fasthttp.StatusOK:
			exists = true
		case resp.StatusCode() == fasthttp.StatusNotFound:
			exists = false
		case resp.StatusCode() >= 500:
			return cmn.NewUnavailable("netstore: remote returned %d", resp.StatusCode())
		}
		return nil
	})
	return exists, err
}

func (b *Backend) doWithTimeout(req *fasthttp.Request, resp *fasthttp.Response) error {
	return b.client.DoTimeout(req, resp, b.cfg.OpTimeout)
}

// withRetry runs fn with exponential backoff and jitter, failing fast
// through the circuit breaker and surfacing Unavailable after
// cfg.MaxRetries consecutive failures (spec §4.2).
func (b *Backend) withRetry(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= b.cfg.MaxRetries; attempt++ {
		if !b.breaker.Allow() {
			return cmn.NewUnavailable("netstore: circuit breaker open")
		}
		if attempt > 0 {
			backoff := b.cfg.BaseBackoff << uint(attempt-1)
			if backoff > b.cfg.MaxBackoff || backoff <= 0 {
				backoff = b.cfg.MaxBackoff
			}
			jitter := time.Duration(rand.Int63n(int64(backoff) + 1))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(jitter):
			}
		}

		lastErr = fn()
		if lastErr == nil {
			b.breaker.RecordSuccess()
			return nil
		}
		b.breaker.RecordFailure()
	}
	return cmn.NewUnavailable("netstore: exhausted %d retries: %v", b.cfg.MaxRetries, lastErr)
}
