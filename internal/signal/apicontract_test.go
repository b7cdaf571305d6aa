package signal

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"sentryfleet/internal/probe"
)

func TestCheckAPIContractSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok","items":[{"id":1}]}`))
	}))
	defer srv.Close()

	check := probe.APIContractCheck{
		Name: "health", Path: "/health", ExpectedStatus: 200, ContentTypeContains: "application/json",
		RequiredJSONPaths:  []string{"items.0.id"},
		RequiredJSONEquals: map[string]string{"status": "ok"},
	}

	result := CheckAPIContract(context.Background(), srv.URL, check)
	assert.True(t, result.OK)
}

func TestCheckAPIContractStatusMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	check := probe.APIContractCheck{Name: "health", Path: "/health", ExpectedStatus: 200}
	result := CheckAPIContract(context.Background(), srv.URL, check)
	assert.False(t, result.OK)
}

func TestJSONPathLookup(t *testing.T) {
	doc := map[string]interface{}{
		"a": map[string]interface{}{"b": []interface{}{map[string]interface{}{"c": "value"}}},
	}
	v, ok := jsonPathLookup(doc, "a.b.0.c")
	assert.True(t, ok)
	assert.Equal(t, "value", v)

	_, ok = jsonPathLookup(doc, "a.b.5.c")
	assert.False(t, ok)
}
