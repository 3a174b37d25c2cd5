package httputil

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()

	err := WriteJSON(w, http.StatusOK, map[string]string{"message": "success"})

	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"message":"success"}`, w.Body.String())
}

func TestErrorReplies(t *testing.T) {
	tests := []struct {
		name  string
		write func(http.ResponseWriter)
		code  int
		msg   string
	}{
		{"error", func(w http.ResponseWriter) { WriteError(w, http.StatusConflict, errors.New("taken")) }, http.StatusConflict, "taken"},
		{"bad request", func(w http.ResponseWriter) { WriteBadRequest(w, "bad") }, http.StatusBadRequest, "bad"},
		{"not found", func(w http.ResponseWriter) { WriteNotFoundError(w, "gone") }, http.StatusNotFound, "gone"},
		{"internal", func(w http.ResponseWriter) { WriteInternalError(w, errors.New("oops")) }, http.StatusInternalServerError, "oops"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.write(w)

			assert.Equal(t, tt.code, w.Code)
			var body ErrorResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
			assert.Equal(t, tt.msg, body.Error)
		})
	}
}

func TestParseQueryBool(t *testing.T) {
	tests := []struct {
		query   string
		want    bool
		wantErr bool
	}{
		{"", true, false},
		{"?flag=false", false, false},
		{"?flag=1", true, false},
		{"?flag=maybe", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			got, err := ParseQueryBool(httptest.NewRequest(http.MethodGet, "/"+tt.query, nil), "flag", true)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseQueryString(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/?direction=both", nil)
	assert.Equal(t, "both", ParseQueryString(r, "direction", "dependencies"))
	assert.Equal(t, "x", ParseQueryString(r, "focus", "x"))
}

func TestParsePathString(t *testing.T) {
	r := mux.SetURLVars(httptest.NewRequest(http.MethodGet, "/", nil), map[string]string{"name": "0"})
	name, err := ParsePathString(r, "name")
	require.NoError(t, err)
	assert.Equal(t, "0", name)

	_, err = ParsePathString(r, "other")
	assert.Error(t, err)
}

func TestMiddlewareChain(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	router := mux.NewRouter()
	router.HandleFunc("/ok", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	router.HandleFunc("/panic", func(http.ResponseWriter, *http.Request) {
		panic("handler exploded")
	})
	handler := Chain(RequestIDMiddleware, LoggingMiddleware(logger), RecoveryMiddleware(logger))(router)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/ok", nil))
	assert.Equal(t, http.StatusTeapot, rr.Code)
	id := rr.Header().Get(RequestIDHeader)
	assert.Len(t, id, 36)

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, http.StatusTeapot, entry.Data["status"])
	assert.Equal(t, id, entry.Data["request_id"])

	req := httptest.NewRequest(http.MethodGet, "/panic", nil)
	req.Header.Set(RequestIDHeader, "given")
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "given", rr.Header().Get(RequestIDHeader))

	var panics int
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.ErrorLevel {
			panics++
			assert.Equal(t, "handler exploded", e.Data["panic"])
		}
	}
	assert.Equal(t, 1, panics)
}
