package backend

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrEmptyUpdate is returned by Update when nothing is left to send once blank
// values are dropped. No request is made.
var ErrEmptyUpdate = errors.New("no non-blank fields to update")

// StatusError is an application failure: the backend answered with a status
// code outside the operation's success set.
type StatusError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s failed (%d): %s", e.Op, e.StatusCode, e.Message)
}

// TransportError covers unreachable hosts, timeouts and unreadable bodies.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// extractError turns an error response body into a display message: a
// structured error field when the body has one, otherwise the body itself.
func extractError(status int, body []byte) string {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return http.StatusText(status)
	}

	var payload map[string]any
	if err := json.Unmarshal(trimmed, &payload); err != nil {
		return string(body)
	}
	for _, key := range []string{"error", "detail", "message"} {
		value, ok := payload[key]
		if !ok || value == nil {
			continue
		}
		if s, ok := value.(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
			continue
		}
		if raw, err := json.Marshal(value); err == nil {
			return string(raw)
		}
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, trimmed); err == nil {
		return compact.String()
	}
	return string(body)
}
