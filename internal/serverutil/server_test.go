package serverutil

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	skimerrs "github.com/jdholdren/skim/internal/errors"
	"github.com/jdholdren/skim/internal/skim"
)

type nameReq struct {
	Name string `json:"name"`
}

func (r nameReq) Validate() error {
	if r.Name == "" {
		return skimerrs.E("name is required", http.StatusBadRequest)
	}
	return nil
}

func TestDecodeValid(t *testing.T) {
	got, err := DecodeValid[nameReq](strings.NewReader(`{"name":"skim"}`))
	require.NoError(t, err)
	assert.Equal(t, "skim", got.Name)

	_, err = DecodeValid[nameReq](strings.NewReader(`{}`))
	assert.Equal(t, http.StatusBadRequest, skimerrs.From(err).Status)

	_, err = DecodeValid[nameReq](strings.NewReader(`nope`))
	assert.Equal(t, http.StatusBadRequest, skimerrs.From(err).Status)
}

func TestHandlerFuncE(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		body   string
	}{
		{name: "structured", err: skimerrs.E("bad", http.StatusBadRequest), status: http.StatusBadRequest, body: `{"message":"bad","details":null,"status":400}`},
		{name: "domain", err: fmt.Errorf("feed 1: %w", skim.ErrNotFound), status: http.StatusNotFound},
		{name: "opaque", err: errors.New("secret detail"), status: http.StatusInternalServerError, body: `{"message":"internal server error","details":null,"status":500}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := ErrRouter{Router: mux.NewRouter()}
			r.Use(AccessLogMiddleware)
			r.HandleFuncE("/x", func(w http.ResponseWriter, r *http.Request) error { return tt.err })

			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			if tt.body != "" {
				assert.JSONEq(t, tt.body, rec.Body.String())
			}
		})
	}
}

func TestAccessLogKeepsFlusher(t *testing.T) {
	var flushed bool
	h := AccessLogMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, flushed = w.(http.Flusher)
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.True(t, flushed)
	assert.Equal(t, http.StatusTeapot, rec.Code)
}
