package authapi

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
)

var (
	errBodyTooLarge     = errors.New("request body too large")
	errUnsupportedMedia = errors.New("content type must be application/json")
	errMalformedBody    = errors.New("malformed JSON body")
)

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error apiError `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: apiError{Code: code, Message: msg}})
}

// decodeJSON reads exactly one JSON object of at most maxBytes into dst.
// Unknown fields and trailing data are rejected.
func decodeJSON(w http.ResponseWriter, r *http.Request, maxBytes int64, dst any) error {
	if ct := r.Header.Get("Content-Type"); ct != "" {
		mt, _, err := mime.ParseMediaType(ct)
		if err != nil || mt != "application/json" {
			return errUnsupportedMedia
		}
	}
	if r.Body == nil || r.Body == http.NoBody {
		return errMalformedBody
	}
	defer func() { _ = r.Body.Close() }()

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBytes))
	dec.DisallowUnknownFields()

	var tooLarge *http.MaxBytesError
	if err := dec.Decode(dst); err != nil {
		if errors.As(err, &tooLarge) {
			return errBodyTooLarge
		}
		return errMalformedBody
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if errors.As(err, &tooLarge) {
			return errBodyTooLarge
		}
		return errMalformedBody
	}
	return nil
}

// writeDecodeError maps a decodeJSON failure to its response.
func writeDecodeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errBodyTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "request body too large")
	case errors.Is(err, errUnsupportedMedia):
		writeError(w, http.StatusUnsupportedMediaType, "unsupported_media_type", "content type must be application/json")
	default:
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
	}
}
