package buffer

import (
	"errors"
	"fmt"
)

// ErrMessageSizeExceeded is returned (wrapped) whenever an incoming message
// declares a length greater than the reader's configured MaxMessageSize.
var ErrMessageSizeExceeded = errors.New("message size exceeded")

// ErrInsufficientData is returned (wrapped) when a message holds fewer bytes
// than the value being read from it needs.
var ErrInsufficientData = errors.New("insufficient data")

// NewInsufficientData wraps ErrInsufficientData with the remaining length.
func NewInsufficientData(length int) error {
	return fmt.Errorf("%w: %d bytes remaining in message", ErrInsufficientData, length)
}

// ErrMissingNulTerminator is returned (wrapped) when a string field of a
// message has no NUL terminator.
var ErrMissingNulTerminator = errors.New("NUL terminator not found")

// NewMissingNulTerminator wraps ErrMissingNulTerminator.
func NewMissingNulTerminator() error { return fmt.Errorf("%w", ErrMissingNulTerminator) }

// MessageSizeExceeded carries the offending message size and the configured
// maximum so that callers can report both in a wire error response.
type MessageSizeExceeded struct {
	Max  int
	Size int
}

func (e *MessageSizeExceeded) Error() string {
	return fmt.Sprintf("message size %d exceeds maximum of %d", e.Size, e.Max)
}

func (e *MessageSizeExceeded) Unwrap() error {
	return ErrMessageSizeExceeded
}

// NewMessageSizeExceeded wraps ErrMessageSizeExceeded with the offending size.
func NewMessageSizeExceeded(max, size int) error {
	return &MessageSizeExceeded{Max: max, Size: size}
}

// UnwrapMessageSizeExceeded extracts the *MessageSizeExceeded details from an
// error chain, if present.
func UnwrapMessageSizeExceeded(err error) (*MessageSizeExceeded, bool) {
	var exceeded *MessageSizeExceeded
	if errors.As(err, &exceeded) {
		return exceeded, true
	}
	return nil, false
}
