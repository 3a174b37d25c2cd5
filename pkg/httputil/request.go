package httputil

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
)

// ParsePathString extracts a required path variable
func ParsePathString(r *http.Request, key string) (string, error) {
	val := mux.Vars(r)[key]
	if val == "" {
		return "", fmt.Errorf("missing path parameter: %s", key)
	}
	return val, nil
}

// ParseQueryString extracts a query parameter or returns defaultVal
func ParseQueryString(r *http.Request, key string, defaultVal string) string {
	if val := r.URL.Query().Get(key); val != "" {
		return val
	}
	return defaultVal
}

// ParseQueryBool extracts and parses a boolean query parameter
func ParseQueryBool(r *http.Request, key string, defaultVal bool) (bool, error) {
	str := r.URL.Query().Get(key)
	if str == "" {
		return defaultVal, nil
	}
	val, err := strconv.ParseBool(str)
	if err != nil {
		return false, fmt.Errorf("invalid boolean for query param %s: %s", key, str)
	}
	return val, nil
}
