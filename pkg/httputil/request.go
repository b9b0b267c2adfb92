package httputil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
)

// ParseJSON decodes JSON from the request body into the destination
func ParseJSON(r *http.Request, dest interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

// ParseJSONOrError decodes JSON and writes an error response on failure
func ParseJSONOrError(w http.ResponseWriter, r *http.Request, dest interface{}) bool {
	if err := ParseJSON(r, dest); err != nil {
		WriteBadRequest(w, err.Error())
		return false
	}
	return true
}

// ParseQueryInt extracts and parses an integer query parameter
func ParseQueryInt(r *http.Request, key string, defaultVal int) (int, error) {
	str := r.URL.Query().Get(key)
	if str == "" {
		return defaultVal, nil
	}
	val, err := strconv.Atoi(str)
	if err != nil {
		return 0, fmt.Errorf("invalid integer for query param %s: %s", key, str)
	}
	return val, nil
}

// ParseQueryString extracts a string query parameter
func ParseQueryString(r *http.Request, key string, defaultVal string) string {
	val := r.URL.Query().Get(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// ParseQueryBool extracts and parses an optional boolean query parameter.
// Returns nil when the parameter is absent.
func ParseQueryBool(r *http.Request, key string) (*bool, error) {
	str := r.URL.Query().Get(key)
	if str == "" {
		return nil, nil
	}
	val, err := strconv.ParseBool(str)
	if err != nil {
		return nil, fmt.Errorf("invalid boolean for query param %s: %s", key, str)
	}
	return &val, nil
}

// Pagination holds normalized limit/offset parameters
type Pagination struct {
	Limit  int
	Offset int
}

// ParsePagination extracts limit/offset query parameters, clamping the
// limit to [1, maxLimit] and the offset to >= 0.
func ParsePagination(r *http.Request, defaultLimit, maxLimit int) (Pagination, error) {
	limit, err := ParseQueryInt(r, "limit", defaultLimit)
	if err != nil {
		return Pagination{}, err
	}
	offset, err := ParseQueryInt(r, "offset", 0)
	if err != nil {
		return Pagination{}, err
	}

	if limit < 1 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	if offset < 0 {
		offset = 0
	}

	return Pagination{Limit: limit, Offset: offset}, nil
}
