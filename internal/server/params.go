package server

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/aispark/pdmcore/internal/errors"
)

func pathID(r *http.Request) string {
	return mux.Vars(r)["id"]
}

// parseTimeParam accepts RFC 3339 or unix milliseconds. A missing
// parameter returns the zero time.
func parseTimeParam(r *http.Request, name string) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, nil
	}
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.UnixMilli(ms), nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, errors.NewInvalidValue(name, raw,
			"expected RFC 3339 or unix milliseconds")
	}
	return t, nil
}

func parseIntParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.NewInvalidValue(name, raw, "expected a non-negative integer")
	}
	return n, nil
}

// parseTimeRange reads the optional "start"/"end" query parameters.
func parseTimeRange(r *http.Request) (start, end time.Time, err error) {
	if start, err = parseTimeParam(r, "start"); err != nil {
		return
	}
	if end, err = parseTimeParam(r, "end"); err != nil {
		return
	}
	if !start.IsZero() && !end.IsZero() && !end.After(start) {
		err = errors.NewValidation("end", fmt.Sprintf("must be after start (%s)", start.Format(time.RFC3339)))
	}
	return
}
