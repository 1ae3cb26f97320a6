package httputil

import (
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// NewDefaultRestyClient returns a resty client with the shared timeout and retry policy.
// Only network errors and 5xx responses are retried; 4xx responses carry business errors
// (for example the 24-hour window rejection) and must reach the caller untouched.
func NewDefaultRestyClient(baseURL string, timeout time.Duration, retries int) *resty.Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(retries).
		SetRetryWaitTime(500*time.Millisecond).
		SetRetryMaxWaitTime(5*time.Second).
		SetHeader("Accept", "application/json").
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= http.StatusInternalServerError
		})

	return client
}
