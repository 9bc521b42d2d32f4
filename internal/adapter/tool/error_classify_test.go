package tool

import (
	"errors"
	"fmt"
	"testing"

	"github.com/chih3b/SanteConnect/internal/domain"
)

func TestIsTransient_Nil(t *testing.T) {
	if isTransient(nil) {
		t.Error("expected nil error to be non-transient")
	}
}

func TestIsTransient_Sentinels(t *testing.T) {
	sentinels := []struct {
		name     string
		sentinel error
	}{
		{"ErrTimeout", domain.ErrTimeout},
		{"ErrProviderError", domain.ErrProviderError},
		{"ErrRateLimit", domain.ErrRateLimit},
	}
	for _, tt := range sentinels {
		t.Run(tt.name, func(t *testing.T) {
			if !isTransient(tt.sentinel) {
				t.Errorf("expected %v to be transient", tt.sentinel)
			}
			wrapped := fmt.Errorf("azure read: %w", tt.sentinel)
			if !isTransient(wrapped) {
				t.Errorf("expected wrapped %v to be transient", tt.sentinel)
			}
		})
	}
}

func TestIsTransient_InvalidInputWins(t *testing.T) {
	// A bad request is never an outage, even when the message mentions one.
	err := fmt.Errorf("%w: timeout must be positive", domain.ErrInvalidInput)
	if isTransient(err) {
		t.Error("invalid input must not count as transient")
	}
}

func TestIsTransient_Patterns(t *testing.T) {
	tests := []struct {
		msg  string
		want bool
	}{
		{"dial tcp 10.0.0.1:443: connection refused", true},
		{"read: connection reset by peer", true},
		{"lookup api.fda.gov: no such host", true},
		{"context deadline exceeded", true},
		{"503 Service Unavailable", true},
		{"unexpected EOF", true},
		{"segmentation model not configured", false},
		{"image is required", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			if got := isTransient(errors.New(tt.msg)); got != tt.want {
				t.Errorf("isTransient(%q) = %v, want %v", tt.msg, got, tt.want)
			}
		})
	}
}
