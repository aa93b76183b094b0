// Package httpclient builds the HTTP clients used for outgoing requests.
package httpclient

import (
	"bytes"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// UserAgent is sent on every outgoing request that doesn't set its own
const UserAgent = "clubinhonerd"

// maxLoggedBody caps how much of a response body is kept for trace logs
const maxLoggedBody = 2048

type loggingTransport struct {
	base http.RoundTripper
	name string
}

// New returns a client with the given timeout whose requests are logged under name
func New(name string, timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: &loggingTransport{base: http.DefaultTransport, name: name},
	}
}

func (t *loggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", UserAgent)
	}

	target := RedactURL(req.URL)
	start := time.Now()

	resp, err := t.base.RoundTrip(req)
	elapsed := time.Since(start)
	if err != nil {
		log.Debug().
			Str("client", t.name).
			Str("method", req.Method).
			Str("url", target).
			Dur("duration", elapsed).
			Err(err).
			Msg("Outgoing request failed")
		return nil, err
	}

	log.Debug().
		Str("client", t.name).
		Str("method", req.Method).
		Str("url", target).
		Int("status", resp.StatusCode).
		Dur("duration", elapsed).
		Msg("Outgoing request")

	if e := log.Trace(); e.Enabled() {
		e.Str("client", t.name).Str("body", peekBody(resp)).Msg("Outgoing request response")
	}
	return resp, nil
}

// peekBody returns the start of the response body and leaves the body readable
func peekBody(resp *http.Response) string {
	if resp.Body == nil {
		return ""
	}
	head, err := io.ReadAll(io.LimitReader(resp.Body, maxLoggedBody))
	if err != nil {
		return ""
	}
	resp.Body = struct {
		io.Reader
		io.Closer
	}{io.MultiReader(bytes.NewReader(head), resp.Body), resp.Body}
	return string(head)
}

// RedactURL hides credentials in the user info and in token-like query
// parameters so a webhook URL can be logged
func RedactURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	c := *u
	if c.User != nil {
		c.User = url.User("redacted")
	}
	if c.RawQuery != "" {
		q := c.Query()
		for key := range q {
			if sensitiveKey(key) {
				q.Set(key, "redacted")
			}
		}
		c.RawQuery = q.Encode()
	}
	return c.String()
}

func sensitiveKey(key string) bool {
	k := strings.ToLower(key)
	return strings.Contains(k, "token") || strings.Contains(k, "key") ||
		strings.Contains(k, "secret") || k == "auth" || k == "authorization" || k == "sig"
}
