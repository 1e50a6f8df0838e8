package httputil

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"supportchat/internal/errors"
)

// WriteJSON writes v as a JSON body with the given status
func WriteJSON(w http.ResponseWriter, status int, v interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if v == nil {
		return nil
	}
	return json.NewEncoder(w).Encode(v)
}

// WriteError maps err to a status code and writes the public error body.
// message overrides the user-facing text when not empty.
func WriteError(w http.ResponseWriter, err error, requestID, message string) error {
	return WriteJSON(w, errors.HTTPStatusCode(err), errors.ToHTTPResponse(err, requestID, message))
}

// DecodeJSON reads a bounded JSON body into dst. Unknown fields are rejected.
func DecodeJSON(r *http.Request, maxBytes int64, dst interface{}) error {
	if r.Body == nil {
		return errors.NewValidationError("body", "request body is required")
	}
	if r.ContentLength > maxBytes {
		return errors.NewValidationError("body", "request body too large")
	}

	dec := json.NewDecoder(io.LimitReader(r.Body, maxBytes+1))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if err == io.EOF {
			return errors.NewValidationError("body", "request body is required")
		}
		return errors.Wrap(err, errors.ErrCodeValidationFailed, "invalid JSON body").
			WithUserMessage("Request body is not valid JSON")
	}
	if dec.More() {
		return errors.NewValidationError("body", "unexpected trailing data")
	}
	return nil
}

// QueryInt parses an optional integer query parameter
func QueryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.NewValidationError(key, "must be an integer")
	}
	return n, nil
}
