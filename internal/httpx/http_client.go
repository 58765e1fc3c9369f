package httpx

import (
	"net/http"
	"time"
)

// DefaultTimeout bounds model calls, which can take a while on large PDFs.
const DefaultTimeout = 90 * time.Second

// NewClient returns the client used for every outbound call (model providers,
// document downloads). A non-positive timeoutSeconds selects DefaultTimeout.
func NewClient(timeoutSeconds int) (*http.Client, time.Duration) {
	timeout := DefaultTimeout
	if timeoutSeconds > 0 {
		timeout = time.Duration(timeoutSeconds) * time.Second
	}
	return &http.Client{Timeout: timeout}, timeout
}
