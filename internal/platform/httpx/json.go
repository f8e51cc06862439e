package httpx

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// DefaultBodyLimit caps request bodies when callers pass a non-positive limit.
const DefaultBodyLimit int64 = 16 * 1024

var (
	// ErrEmptyBody is returned when a JSON body is required but absent.
	ErrEmptyBody = errors.New("httpx: request body is empty")
	// ErrBodyTooLarge is returned when the body exceeds the configured limit.
	ErrBodyTooLarge = errors.New("httpx: request body too large")
)

// ReadLimitedBody reads at most limit bytes, failing with ErrBodyTooLarge when more are present.
func ReadLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, ErrEmptyBody
	}
	if limit <= 0 {
		limit = DefaultBodyLimit
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, ErrBodyTooLarge
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrEmptyBody
	}
	return data, nil
}

// DecodeJSON decodes the request body into dst, rejecting unknown fields.
// When optional is true an empty body leaves dst untouched.
func DecodeJSON(r *http.Request, limit int64, dst any, optional bool) error {
	data, err := ReadLimitedBody(r, limit)
	if err != nil {
		if optional && errors.Is(err, ErrEmptyBody) {
			return nil
		}
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if dec.More() {
		return errors.New("invalid JSON body: trailing data")
	}
	return nil
}

// BodyError converts a DecodeJSON failure into the matching envelope.
func BodyError(err error) Error {
	switch {
	case errors.Is(err, ErrBodyTooLarge):
		return NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge)
	case errors.Is(err, ErrEmptyBody):
		return InvalidRequest("request body is required")
	default:
		return InvalidRequest(err.Error())
	}
}

// WriteJSON encodes payload with the given status.
func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
