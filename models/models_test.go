package models

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScrapeError_ErrorMessageIncludesWrappedError(t *testing.T) {
	wrapped := errors.New("dial tcp failed")
	err := NewError(ErrNetwork, "fetch failed", wrapped)

	assert.Contains(t, err.Error(), "NETWORK")
	assert.Contains(t, err.Error(), "fetch failed")
	assert.Contains(t, err.Error(), "dial tcp failed")
	assert.True(t, errors.Is(err, wrapped) || errors.Unwrap(err) == wrapped)
}

func TestScrapeError_ToDetailCarriesKindAsCode(t *testing.T) {
	err := NewError(ErrCaptcha, "challenge unsolved", nil)
	detail := err.ToDetail()

	assert.Equal(t, "CAPTCHA", detail.Code)
	assert.Equal(t, "challenge unsolved", detail.Message)
}

func TestAsScrapeError_PassesThroughScrapeError(t *testing.T) {
	original := NewError(ErrTimeout, "timed out", nil)
	assert.Same(t, original, AsScrapeError(original))
}

func TestAsScrapeError_SynthesizesInternalForPlainError(t *testing.T) {
	plain := errors.New("boom")
	got := AsScrapeError(plain)

	assert.Equal(t, ErrInternal, got.Kind)
	assert.Equal(t, "boom", got.Message)
}

func TestAsScrapeError_NilStaysNil(t *testing.T) {
	assert.Nil(t, AsScrapeError(nil))
}

func TestScrapeRequest_DefaultsAppliedOnlyWhenUnset(t *testing.T) {
	req := ScrapeRequest{URL: "https://example.com"}
	req.Defaults()

	assert.Equal(t, "markdown", req.OutputType)
	assert.Equal(t, 30000, req.TimeoutMs)

	req2 := ScrapeRequest{URL: "https://example.com", OutputType: "content_only", TimeoutMs: 5000}
	req2.Defaults()
	assert.Equal(t, "content_only", req2.OutputType)
	assert.Equal(t, 5000, req2.TimeoutMs)
}
