package authapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

func decodeJSON(r io.Reader, dst any) error {
	dec := json.NewDecoder(r)
	if err := dec.Decode(dst); err != nil {
		return err
	}
	// Ensure there is no extra data after the first JSON value.
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("extra data after JSON object")
	}
	return nil
}

// readError builds an *Error from a non-2xx response. Bodies that are not the
// standard error envelope still yield a status-only error.
func readError(resp *http.Response, body io.Reader) *Error {
	e := &Error{
		Status:     resp.StatusCode,
		Code:       strings.ToLower(strings.ReplaceAll(http.StatusText(resp.StatusCode), " ", "_")),
		RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
	}

	var env errorResponse
	if err := json.NewDecoder(body).Decode(&env); err == nil && env.Error.Code != "" {
		e.Code = env.Error.Code
		e.Message = env.Error.Message
	}
	return e
}

func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second
}
