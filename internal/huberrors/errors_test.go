package huberrors

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProviderError_Is(t *testing.T) {
	err := fmt.Errorf("embed: %w", NewProviderError(ProviderRateLimited, "openai", http.StatusTooManyRequests, nil))

	assert.ErrorIs(t, err, ErrRateLimited)
	assert.ErrorIs(t, err, &ProviderError{})
	assert.NotErrorIs(t, err, ErrProviderUnavailable)
	assert.NotErrorIs(t, err, ErrProviderRejected)
	assert.NotErrorIs(t, err, ErrStoreUnavailable)
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"unavailable", NewProviderError(ProviderUnavailable, "p", 503, nil), true},
		{"rate limited", NewProviderError(ProviderRateLimited, "p", 429, nil), true},
		{"rejected", NewProviderError(ProviderRejected, "p", 400, nil), false},
		{"unreachable", &ProviderError{Kind: ProviderUnavailable, Unreachable: true}, false},
		{"store", NewStoreUnavailableError("redis", errors.New("dial")), true},
		{"plain", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestFromStatusCode(t *testing.T) {
	tests := []struct {
		code int
		want ProviderErrorKind
	}{
		{http.StatusTooManyRequests, ProviderRateLimited},
		{http.StatusRequestTimeout, ProviderUnavailable},
		{http.StatusInternalServerError, ProviderUnavailable},
		{http.StatusBadGateway, ProviderUnavailable},
		{http.StatusServiceUnavailable, ProviderUnavailable},
		{http.StatusBadRequest, ProviderRejected},
		{http.StatusUnprocessableEntity, ProviderRejected},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, FromStatusCode("p", tt.code, nil).Kind)
		})
	}
}

func TestFromTransportError(t *testing.T) {
	t.Run("connection refused is unreachable", func(t *testing.T) {
		err := &net.OpError{Op: "dial", Net: "tcp", Err: os.NewSyscallError("connect", syscall.ECONNREFUSED)}
		pe := FromTransportError("p", err)

		assert.Equal(t, ProviderUnavailable, pe.Kind)
		assert.True(t, pe.Unreachable)
		assert.False(t, pe.Transient())
	})

	t.Run("unknown host is unreachable", func(t *testing.T) {
		pe := FromTransportError("p", &net.DNSError{Err: "no such host", Name: "x.invalid", IsNotFound: true})

		assert.True(t, pe.Unreachable)
	})

	t.Run("timeout stays transient", func(t *testing.T) {
		pe := FromTransportError("p", errors.New("i/o timeout"))

		assert.False(t, pe.Unreachable)
		assert.True(t, pe.Transient())
	})
}

func TestStoreUnavailableError(t *testing.T) {
	inner := errors.New("connection reset")
	err := fmt.Errorf("query: %w", NewStoreUnavailableError("vector", inner))

	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.ErrorIs(t, err, inner)
	assert.Equal(t, "query: vector store unavailable: connection reset", err.Error())
}
