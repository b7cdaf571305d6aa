package probe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPCheckOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("<html><body>all good</body></html>"))
	}))
	defer srv.Close()

	spec := DomainSpec{Domain: "test", URL: srv.URL, HTTPTimeoutSeconds: 5}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	outcome := HTTPCheck(ctx, spec)
	assert.True(t, outcome.OK)
	require.NotNil(t, outcome.StatusCode)
	assert.Equal(t, 200, *outcome.StatusCode)
	require.NotNil(t, outcome.HTTPElapsedMs)
}

func TestHTTPCheckScriptMaintenanceNotForbidden(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`<html><body><script>var msg = "maintenance";</script>all good</body></html>`))
	}))
	defer srv.Close()

	spec := DomainSpec{Domain: "test", URL: srv.URL, HTTPTimeoutSeconds: 5}
	outcome := HTTPCheck(context.Background(), spec)
	assert.True(t, outcome.OK, "forbidden phrase inside <script> must not trip the check")
}

func TestHTTPCheckForbiddenTextInBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("<html><body>Site is under maintenance</body></html>"))
	}))
	defer srv.Close()

	spec := DomainSpec{Domain: "test", URL: srv.URL, HTTPTimeoutSeconds: 5}
	outcome := HTTPCheck(context.Background(), spec)
	assert.False(t, outcome.OK)
	assert.Equal(t, "forbidden_text", outcome.ErrorKind)
}

func TestHTTPCheckUnexpectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	spec := DomainSpec{Domain: "test", URL: srv.URL, HTTPTimeoutSeconds: 5}
	outcome := HTTPCheck(context.Background(), spec)
	assert.False(t, outcome.OK)
	assert.Equal(t, "http_error", outcome.ErrorKind)
}

func TestHTTPCheckFinalHostMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	spec := DomainSpec{Domain: "test", URL: srv.URL, HTTPTimeoutSeconds: 5, ExpectedFinalHostSuffix: "example.com"}
	outcome := HTTPCheck(context.Background(), spec)
	assert.False(t, outcome.OK)
	assert.Equal(t, "final_host_mismatch", outcome.ErrorKind)
}

func TestHTTPCheckConnectionRefused(t *testing.T) {
	spec := DomainSpec{Domain: "test", URL: "http://127.0.0.1:1", HTTPTimeoutSeconds: 1}
	outcome := HTTPCheck(context.Background(), spec)
	assert.False(t, outcome.OK)
	assert.Equal(t, "http_error", outcome.ErrorKind)
}

func TestDefaultState(t *testing.T) {
	assert.Equal(t, StateAttached, DefaultState("meta[name=description]"))
	assert.Equal(t, StateAttached, DefaultState("script#analytics"))
	assert.Equal(t, StateVisible, DefaultState("#main-content"))
}
