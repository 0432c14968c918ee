package download

import (
	"net/http"
	"time"
)

const (
	transportRetries = 3
	retryBackoff     = 500 * time.Millisecond
)

// retryTransport retries idempotent requests a fixed small number of times on
// network errors and 5xx responses. 4xx responses pass through untouched so
// the caller can surface them as typed download errors.
type retryTransport struct {
	base http.RoundTripper
}

var _ http.RoundTripper = (*retryTransport)(nil)

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	var (
		resp *http.Response
		err  error
	)

	for attempt := 0; attempt < transportRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-req.Context().Done():
				return nil, req.Context().Err()
			case <-time.After(time.Duration(attempt) * retryBackoff):
			}
		}

		resp, err = t.base.RoundTrip(req)
		if err != nil {
			continue
		}

		if resp.StatusCode < http.StatusInternalServerError {
			return resp, nil
		}

		// Server error: drain and retry unless this was the last attempt.
		if attempt < transportRetries-1 {
			_ = resp.Body.Close()
		}
	}

	return resp, err
}

func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: &retryTransport{base: http.DefaultTransport},
	}
}
