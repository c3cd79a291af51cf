package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/aispark/pdmcore/internal/errors"
)

// maxBodyBytes caps request bodies. Batch appends are the largest
// legitimate payload.
const maxBodyBytes = 8 << 20

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error    string `json:"error"`
	Category string `json:"category"`
}

// respondJSON writes v as a JSON response with the given status.
func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug("response encode failed", "error", err)
	}
}

// respondError maps an error to its HTTP status and writes the error body.
func respondError(w http.ResponseWriter, err error) {
	status := errors.HTTPStatus(err)
	if status >= 500 {
		log.Error("request failed", "status", status, "error", err)
	}
	respondJSON(w, status, errorBody{
		Error:    err.Error(),
		Category: errors.CategoryName(err),
	})
}

// decodeJSON decodes a request body into v, rejecting unknown fields.
func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.NewValidation("body", fmt.Sprintf("invalid JSON: %v", err))
	}
	return nil
}
