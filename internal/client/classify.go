package client

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
)

// ErrorKind is the closed classification taxonomy for failed turns.
type ErrorKind string

const (
	KindAuth       ErrorKind = "auth"
	KindNetwork    ErrorKind = "network"
	KindTimeout    ErrorKind = "timeout"
	KindAPI        ErrorKind = "api"
	KindValidation ErrorKind = "validation"
	KindUnknown    ErrorKind = "unknown"
)

// TurnError is a classified turn failure with a human-readable message and a
// retry hint. Retry policy (backoff, limits) is the caller's concern.
type TurnError struct {
	Kind      ErrorKind
	Message   string
	Retryable bool
}

func (e *TurnError) Error() string { return e.Message }

// classifyTransport maps a failure reaching the relay at all (dial, TLS,
// deadline) onto the taxonomy. Anything unrecognized is unknown and
// retryable by default.
func classifyTransport(err error) *TurnError {
	if errors.Is(err, context.DeadlineExceeded) {
		return &TurnError{Kind: KindTimeout, Message: "The request timed out. Please try again.", Retryable: true}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &TurnError{Kind: KindTimeout, Message: "The request timed out. Please try again.", Retryable: true}
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return &TurnError{Kind: KindNetwork, Message: "Could not reach the server. Check your connection.", Retryable: true}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return &TurnError{Kind: KindNetwork, Message: "Could not reach the server. Check your connection.", Retryable: true}
	}
	return &TurnError{Kind: KindUnknown, Message: "Something went wrong. Please try again.", Retryable: true}
}

// classifyStatus maps a non-streaming HTTP error response onto the taxonomy.
// serverMsg, when present, replaces the canned message.
func classifyStatus(status int, serverMsg string) *TurnError {
	te := &TurnError{Message: serverMsg}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		te.Kind = KindAuth
		if te.Message == "" {
			te.Message = "Invalid API key. Please check your settings."
		}
	case status == http.StatusTooManyRequests || status >= 500:
		te.Kind = KindAPI
		te.Retryable = true
		if te.Message == "" {
			te.Message = "The service is temporarily unavailable. Please try again shortly."
		}
	case status >= 400:
		te.Kind = KindValidation
		if te.Message == "" {
			te.Message = "The request was rejected. Please correct your input."
		}
	default:
		te.Kind = KindUnknown
		te.Retryable = true
		if te.Message == "" {
			te.Message = "Something went wrong. Please try again."
		}
	}
	return te
}

// classifyInBand maps an error frame received mid-stream. The relay already
// committed success headers, so only the message text is available; these are
// provider-side failures and retryable.
func classifyInBand(msg string) *TurnError {
	if msg == "" {
		msg = "The response stream failed. Please try again."
	}
	return &TurnError{Kind: KindAPI, Message: msg, Retryable: true}
}
