package ai

import "errors"

// Errors returned by content providers. Executors treat every one except
// ErrRequestRejected as transient.
var (
	// ErrProviderUnavailable covers outages, throttling and network failures.
	ErrProviderUnavailable = errors.New("content provider unavailable")
	ErrInferenceTimeout    = errors.New("content generation timed out")
	// ErrInvalidResponse means the reply could not be parsed into an
	// extraction, a narrative, an enhanced statement or an image.
	ErrInvalidResponse = errors.New("content provider returned unusable output")
	// ErrRequestRejected means the provider refused the request itself
	// (bad credentials, malformed input). Retrying will not help.
	ErrRequestRejected = errors.New("content provider rejected request")
	// ErrUnsupported is returned by providers without image generation.
	ErrUnsupported = errors.New("content provider cannot generate images")
)

// Retryable reports whether a failed provider call is worth another attempt.
func Retryable(err error) bool {
	return err != nil && !errors.Is(err, ErrRequestRejected)
}
