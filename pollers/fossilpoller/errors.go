/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package fossilpoller

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrNotFossil means a JSON response did not come from a Fossil server.
var ErrNotFossil = errors.New("JSON response is not from a Fossil server")

// HTTPError is a response with a status other than 200.
type HTTPError struct {
	URL        string
	StatusCode int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%d %s %s", e.StatusCode, http.StatusText(e.StatusCode), e.URL)
}

// JSONError is an error reported inside a Fossil JSON API envelope.
type JSONError struct {
	URL  string
	Code string
	Text string
}

func (e *JSONError) Error() string {
	return fmt.Sprintf("JSONError: %s: %s (from %s)", e.Code, e.Text, e.URL)
}

// JSONAuthError is a JSONError in the FOSSIL-2xxx authentication range.
type JSONAuthError struct {
	JSONError
}

func (e *JSONAuthError) Error() string {
	return fmt.Sprintf("JSONAuthError: %s: %s (from %s)", e.Code, e.Text, e.URL)
}

func (e *JSONAuthError) Unwrap() error { return &e.JSONError }
