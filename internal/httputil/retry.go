// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package httputil provides HTTP helpers for provider adapters.
package httputil

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

// RetryBaseDelay is the first backoff delay; it doubles on each attempt.
// Tests override it to avoid real sleeps.
var RetryBaseDelay = 250 * time.Millisecond

// MaxRetryAfter caps a server-supplied Retry-After delay.
var MaxRetryAfter = 5 * time.Second

// Retryable reports whether a response status is worth another attempt:
// 429 and the transient 5xx gateway statuses.
func Retryable(status int) bool {
	switch status {
	case http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// DoWithRetry executes req and retries transport errors and Retryable
// statuses up to maxRetries extra times with exponential backoff starting at
// RetryBaseDelay. A Retry-After header in seconds overrides the computed
// delay, capped at MaxRetryAfter.
//
// The body of a retried response is drained and closed before sleeping.
// Context errors are never retried. After exhausting retries the last
// response (or transport error) is returned so the caller can inspect it.
// Retries are logged at debug level through the logger attached to ctx.
func DoWithRetry(ctx context.Context, client *http.Client, req *http.Request, maxRetries int) (*http.Response, error) {
	if maxRetries < 0 {
		maxRetries = 0
	}
	log := zerolog.Ctx(ctx)

	for attempt := 0; ; attempt++ {
		resp, err := client.Do(req.Clone(ctx))
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			if attempt >= maxRetries {
				return nil, err
			}
		} else {
			if !Retryable(resp.StatusCode) || attempt >= maxRetries {
				return resp, nil
			}
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}

		backoff := RetryBaseDelay << attempt
		if resp != nil {
			if d, ok := retryAfter(resp.Header.Get("Retry-After")); ok {
				backoff = d
			}
		}
		ev := log.Debug().
			Str("url", req.URL.Redacted()).
			Dur("backoff", backoff).
			Int("attempt", attempt+1).
			Int("max_retries", maxRetries)
		if resp != nil {
			ev = ev.Int("status", resp.StatusCode)
		} else {
			ev = ev.Err(err)
		}
		ev.Msg("retrying request")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}
}

func retryAfter(v string) (time.Duration, bool) {
	if v == "" {
		return 0, false
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0, false
	}
	d := time.Duration(secs) * time.Second
	if d > MaxRetryAfter {
		d = MaxRetryAfter
	}
	return d, true
}
