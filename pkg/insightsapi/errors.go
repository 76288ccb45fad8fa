package insightsapi

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// APIError is an error response returned by the API.
type APIError struct {
	StatusCode int    `json:"-"`
	Message    string `json:"message"`
	Type       string `json:"type"`
	Code       int    `json:"code"`
	Subcode    int    `json:"error_subcode"`
	TraceID    string `json:"fbtrace_id"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error (status %d, code %d, subcode %d): %s", e.StatusCode, e.Code, e.Subcode, e.Message)
}

// Rate limit error codes.
var throttleCodes = map[int]struct{}{4: {}, 17: {}, 32: {}, 613: {}, 80000: {}, 80004: {}}

// Throttled reports whether the request was rejected by a rate limit.
func (e *APIError) Throttled() bool {
	if e.StatusCode == http.StatusTooManyRequests {
		return true
	}
	_, ok := throttleCodes[e.Code]
	return ok
}

// Temporary reports whether retrying the request may succeed.
func (e *APIError) Temporary() bool {
	return e.Throttled() || e.StatusCode >= http.StatusInternalServerError
}

func parseError(status int, body []byte) error {
	var resp struct {
		Error *APIError `json:"error"`
	}
	if err := json.Unmarshal(body, &resp); err != nil || resp.Error == nil {
		return &APIError{StatusCode: status, Message: http.StatusText(status)}
	}
	resp.Error.StatusCode = status
	return resp.Error
}
