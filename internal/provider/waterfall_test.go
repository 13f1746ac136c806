// ABOUTME: Tests for the provider waterfall ordering and skip semantics.
// ABOUTME: Uses stub providers to verify tier advancement and failure accounting.

package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	name      string
	available bool
	text      string
	err       error
	calls     int
}

func (s *stubProvider) Name() string    { return s.name }
func (s *stubProvider) Available() bool { return s.available }

func (s *stubProvider) Review(_ context.Context, _ Request) (string, error) {
	s.calls++
	return s.text, s.err
}

func TestWaterfall_FirstProviderWins(t *testing.T) {
	p1 := &stubProvider{name: "local", available: true, text: "tier 1 review"}
	p2 := &stubProvider{name: "anthropic", available: true, text: "tier 2 review"}
	w := NewWaterfall(nil, p1, p2)

	text, name, err := w.Review(context.Background(), Request{Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, "tier 1 review", text)
	assert.Equal(t, "local", name)
	assert.Zero(t, p2.calls, "later tier must not be invoked")
}

func TestWaterfall_TimeoutAdvancesToNextTier(t *testing.T) {
	p1 := &stubProvider{name: "local", available: true, err: errors.New("cli timed out after 120s")}
	p2 := &stubProvider{name: "anthropic", available: true, text: "tier 2 review"}
	p3 := &stubProvider{name: "groq", available: true, text: "tier 3 review"}
	w := NewWaterfall(nil, p1, p2, p3)

	text, name, err := w.Review(context.Background(), Request{Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, "tier 2 review", text)
	assert.Equal(t, "anthropic", name)
	assert.Zero(t, p3.calls, "tier 3 is never invoked when tier 2 succeeds")
}

func TestWaterfall_UnavailableProviderSkippedSilently(t *testing.T) {
	p1 := &stubProvider{name: "local", available: false, text: "never"}
	p2 := &stubProvider{name: "anthropic", available: true, text: "review"}
	w := NewWaterfall(nil, p1, p2)

	_, name, err := w.Review(context.Background(), Request{Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, "anthropic", name)
	assert.Zero(t, p1.calls, "unavailable provider must not be called")
}

func TestWaterfall_EmptyResponseCountsAsFailure(t *testing.T) {
	p1 := &stubProvider{name: "local", available: true, text: ""}
	p2 := &stubProvider{name: "anthropic", available: true, text: "real review"}
	w := NewWaterfall(nil, p1, p2)

	text, name, err := w.Review(context.Background(), Request{Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, "real review", text)
	assert.Equal(t, "anthropic", name)
}

func TestWaterfall_AllFail(t *testing.T) {
	p1 := &stubProvider{name: "local", available: true, err: errors.New("boom")}
	p2 := &stubProvider{name: "anthropic", available: false}
	p3 := &stubProvider{name: "groq", available: true, text: ""}
	w := NewWaterfall(nil, p1, p2, p3)

	_, _, err := w.Review(context.Background(), Request{Prompt: "p"})
	assert.ErrorIs(t, err, ErrAllProvidersFailed)
}

func TestWaterfall_NoProviders(t *testing.T) {
	w := NewWaterfall(nil)
	_, _, err := w.Review(context.Background(), Request{Prompt: "p"})
	assert.ErrorIs(t, err, ErrAllProvidersFailed)
}
