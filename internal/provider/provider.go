// ABOUTME: Review provider contract and the ordered waterfall over provider tiers.
// ABOUTME: Local-first, then hosted APIs; first non-empty response wins.

package provider

import (
	"context"
	"errors"
	"log/slog"
)

// ErrAllProvidersFailed indicates every tier in the waterfall was skipped
// or failed.
var ErrAllProvidersFailed = errors.New("all providers failed")

// Request is a single review request.
type Request struct {
	// System is the reviewer persona/instructions.
	System string
	// Prompt is the material to review.
	Prompt string
}

// Provider produces a review for a request. Implementations apply their
// own timeout; exceeding it is treated identically to returning no
// response.
type Provider interface {
	// Name identifies the provider in logs and review records.
	Name() string
	// Available reports whether the provider's credential or binary is
	// present. Unavailable providers are skipped, not counted as failures.
	Available() bool
	// Review returns the review text. An empty string with a nil error is
	// treated as a failure by the waterfall.
	Review(ctx context.Context, req Request) (string, error)
}

// Waterfall tries providers in order until one returns a non-empty
// response.
type Waterfall struct {
	providers []Provider
	logger    *slog.Logger
}

// NewWaterfall creates a Waterfall over the given providers, in priority
// order.
func NewWaterfall(logger *slog.Logger, providers ...Provider) *Waterfall {
	if logger == nil {
		logger = slog.Default()
	}
	return &Waterfall{
		providers: providers,
		logger:    logger.With("component", "waterfall"),
	}
}

// Review runs the waterfall for one request. Returns the winning
// provider's text and name, or ErrAllProvidersFailed.
func (w *Waterfall) Review(ctx context.Context, req Request) (string, string, error) {
	for _, p := range w.providers {
		if !p.Available() {
			w.logger.Debug("provider skipped, credential absent", "provider", p.Name())
			continue
		}

		text, err := p.Review(ctx, req)
		if err != nil {
			w.logger.Warn("provider failed, advancing to next tier", "provider", p.Name(), "error", err)
			continue
		}
		if text == "" {
			w.logger.Warn("provider returned empty response, advancing to next tier", "provider", p.Name())
			continue
		}

		w.logger.Info("review produced", "provider", p.Name(), "chars", len(text))
		return text, p.Name(), nil
	}

	return "", "", ErrAllProvidersFailed
}
