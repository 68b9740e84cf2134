// Package handler implements the operator HTTP API.
package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

// writeJSON writes v with status, falling back to a bare 500 when v
// cannot be encoded.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// parseListOpts reads ?limit and ?offset. Malformed values fall back to
// the defaults instead of failing the request.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()
	limit := queryInt(q.Get("limit"), defaultPageSize)
	if limit <= 0 {
		limit = defaultPageSize
	}
	offset := max(queryInt(q.Get("offset"), 0), 0)
	return domain.ListOpts{Limit: min(limit, maxPageSize), Offset: offset}
}

func queryInt(v string, fallback int) int {
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// orEmpty keeps JSON arrays from encoding as null.
func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
