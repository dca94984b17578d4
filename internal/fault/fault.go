// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package fault defines the error taxonomy shared by the router, fusion
// engine, cache, and facade. Callers match classes with errors.Is and pull
// details out with errors.As.
package fault

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrProviderTimeout is a provider call that exceeded its timeout.
	ErrProviderTimeout = errors.New("provider timeout")

	// ErrProviderError is any non-timeout provider failure: transport error,
	// malformed payload, or rate limit.
	ErrProviderError = errors.New("provider error")

	// ErrNoSourcesAvailable means every eligible provider failed.
	ErrNoSourcesAvailable = errors.New("no sources available")

	// ErrCacheUnavailable is a shared cache tier failure. It never reaches
	// callers of the facade.
	ErrCacheUnavailable = errors.New("cache unavailable")

	// ErrConfiguration is a request the configuration cannot serve, such as a
	// tool with no mapped providers. It is never retried.
	ErrConfiguration = errors.New("configuration error")
)

// ProviderFailure records one failed provider attempt. It matches
// ErrProviderTimeout or ErrProviderError through Unwrap.
type ProviderFailure struct {
	Provider string
	Tool     string
	Timeout  bool
	Err      error
}

func (f *ProviderFailure) Error() string {
	kind := "error"
	if f.Timeout {
		kind = "timeout"
	}
	return fmt.Sprintf("provider %s %s on %s: %v", f.Provider, kind, f.Tool, f.Err)
}

// Unwrap exposes both the class sentinel and the underlying cause.
func (f *ProviderFailure) Unwrap() []error {
	class := ErrProviderError
	if f.Timeout {
		class = ErrProviderTimeout
	}
	return []error{class, f.Err}
}

// NoSourcesError is returned when a request ends without a usable result.
type NoSourcesError struct {
	Tool     string
	Failures []*ProviderFailure
}

func (e *NoSourcesError) Error() string {
	if len(e.Failures) == 0 {
		return fmt.Sprintf("no sources available for %s", e.Tool)
	}
	msgs := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		msgs = append(msgs, f.Error())
	}
	sort.Strings(msgs)
	return fmt.Sprintf("no sources available for %s: %s", e.Tool, strings.Join(msgs, "; "))
}

// Is reports a match against ErrNoSourcesAvailable.
func (e *NoSourcesError) Is(target error) bool {
	return target == ErrNoSourcesAvailable
}

// Configf returns an ErrConfiguration with a formatted message.
func Configf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

// Providers returns the provider names in a NoSourcesError, or nil.
func Providers(err error) []string {
	var ns *NoSourcesError
	if !errors.As(err, &ns) {
		return nil
	}
	out := make([]string, 0, len(ns.Failures))
	for _, f := range ns.Failures {
		out = append(out, f.Provider)
	}
	return out
}
