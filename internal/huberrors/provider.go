package huberrors

import (
	"context"
	"errors"
	"net"
	"net/http"
	"syscall"
)

// FromStatusCode maps an HTTP status returned by a provider API onto the error taxonomy.
func FromStatusCode(provider string, statusCode int, err error) *ProviderError {
	switch {
	case statusCode == http.StatusTooManyRequests:
		return NewProviderError(ProviderRateLimited, provider, statusCode, err)
	case statusCode == http.StatusRequestTimeout, statusCode >= http.StatusInternalServerError:
		return NewProviderError(ProviderUnavailable, provider, statusCode, err)
	case statusCode >= http.StatusBadRequest:
		return NewProviderError(ProviderRejected, provider, statusCode, err)
	default:
		return NewProviderError(ProviderUnavailable, provider, statusCode, err)
	}
}

// FromTransportError maps an error that carries no HTTP status (network failure, timeout,
// cancelled context) onto the error taxonomy. Connection refused and DNS failures are
// marked Unreachable.
func FromTransportError(provider string, err error) *ProviderError {
	pe := NewProviderError(ProviderUnavailable, provider, 0, err)

	var dnsErr *net.DNSError
	if errors.Is(err, syscall.ECONNREFUSED) || (errors.As(err, &dnsErr) && dnsErr.IsNotFound) {
		pe.Unreachable = true
	}

	return pe
}

// IsContextDone reports whether err came from a cancelled or expired context.
func IsContextDone(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
