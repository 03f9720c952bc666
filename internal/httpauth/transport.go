// Package httpauth injects OAuth credentials into outbound HTTP requests.
//
// Each adapter is an http.RoundTripper wrapping a base transport. A request
// that is answered with 401 Unauthorized is retried at most once with a new
// credential; any further retry policy belongs to the caller's transport.
package httpauth

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
)

// base returns rt, or http.DefaultTransport when rt is nil.
func base(rt http.RoundTripper) http.RoundTripper {
	if rt == nil {
		return http.DefaultTransport
	}
	return rt
}

// replayable returns a function producing a fresh body for each attempt.
// Bodies without GetBody are read into memory once.
func replayable(req *http.Request) (func() (io.ReadCloser, error), error) {
	if req.Body == nil || req.Body == http.NoBody {
		return func() (io.ReadCloser, error) { return http.NoBody, nil }, nil
	}
	if req.GetBody != nil {
		first := true
		return func() (io.ReadCloser, error) {
			if first {
				first = false
				return req.Body, nil
			}
			return req.GetBody()
		}, nil
	}

	data, err := io.ReadAll(req.Body)
	_ = req.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to buffer request body: %w", err)
	}
	return func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}, nil
}

// authorize clones req with a fresh body and the given Authorization value.
func authorize(req *http.Request, body func() (io.ReadCloser, error), authorization string) (*http.Request, error) {
	rc, err := body()
	if err != nil {
		return nil, fmt.Errorf("failed to rewind request body: %w", err)
	}
	out := req.Clone(req.Context())
	out.Body = rc
	out.Header.Set("Authorization", authorization)
	return out, nil
}

// discard drains and closes a response that will not be returned.
func discard(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}

func bearer(token string) string {
	return "Bearer " + token
}
