package provider

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/mytrader/marketfeed/internal/resilience"
)

// StatusError converts a non-2xx HTTP response into a classified error,
// honoring any Retry-After header the venue sends.
func StatusError(resp *http.Response) *resilience.Error {
	kind := resilience.KindHTTP
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		kind = resilience.KindAuth
	}

	return &resilience.Error{
		Kind:       kind,
		StatusCode: resp.StatusCode,
		RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		Err:        errors.New(http.StatusText(resp.StatusCode)),
	}
}

// parseRetryAfter handles the delay-seconds form; the HTTP-date form is rare
// on market-data APIs and is ignored.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
