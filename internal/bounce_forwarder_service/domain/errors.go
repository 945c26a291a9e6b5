package domain

import "errors"

var (
	// ErrMalformedEvent means a message event is missing fields or has the wrong types.
	ErrMalformedEvent = errors.New("malformed message event")
	// ErrTransportNotReady means the queue cannot accept work right now.
	ErrTransportNotReady = errors.New("queue transport not ready")
)
