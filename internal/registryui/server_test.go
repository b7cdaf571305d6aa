package registryui

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentryfleet/internal/registrystore"
)

func postMultipart(t *testing.T, client *http.Client, targetURL string, fields map[string]string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	require.NoError(t, w.Close())

	req, err := http.NewRequest(http.MethodPost, targetURL, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", w.FormDataContentType())
	resp, err := client.Do(req)
	require.NoError(t, err)
	return resp
}

func newTestServer(t *testing.T) (*Server, *registrystore.Tenant, string, *httptest.Server) {
	t.Helper()
	store, err := registrystore.Open(context.Background(), fmt.Sprintf("sqlite://file:%s?mode=memory&cache=shared", t.Name()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	tenant, err := store.CreateTenant(context.Background(), "tenant-1", "Acme", 1000)
	require.NoError(t, err)
	const token = "tenant-token"
	_, err = store.CreateAPIKey(context.Background(), "key-1", tenant.ID, token, "ci", 1000)
	require.NoError(t, err)

	var counter int64
	srv := &Server{
		Store:        store,
		MonitorToken: "monitor-secret",
		ArtifactsDir: t.TempDir(),
		NewID: func() string {
			n := atomic.AddInt64(&counter, 1)
			return "id-" + strconv.FormatInt(n, 10)
		},
	}
	ts := httptest.NewServer(NewRouter(srv))
	t.Cleanup(ts.Close)
	return srv, &tenant, token, ts
}

func newClientWithCookies(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &http.Client{Jar: jar}
}

func login(t *testing.T, client *http.Client, ts *httptest.Server, token string) *http.Response {
	t.Helper()
	resp, err := client.PostForm(ts.URL+"/ui/login", url.Values{"token": {token}})
	require.NoError(t, err)
	return resp
}

func TestLoginRedirectsToTestsOnValidToken(t *testing.T) {
	_, _, token, ts := newTestServer(t)
	client := newClientWithCookies(t)

	resp := login(t, client, ts, token)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, ts.URL+"/ui/tests", resp.Request.URL.String())
}

func TestLoginRejectsBadToken(t *testing.T) {
	_, _, _, ts := newTestServer(t)
	client := newClientWithCookies(t)

	resp := login(t, client, ts, "not-a-real-token")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, ts.URL+"/ui/login", resp.Request.URL.String())
}

func TestTestsPageRequiresSession(t *testing.T) {
	_, _, _, ts := newTestServer(t)
	client := newClientWithCookies(t)

	resp, err := client.Get(ts.URL + "/ui/tests")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, ts.URL+"/ui/login", resp.Request.URL.String())
}

func TestUploadStepflowDefinitionAndViewDetail(t *testing.T) {
	_, _, token, ts := newTestServer(t)
	client := newClientWithCookies(t)
	login(t, client, ts, token).Body.Close()

	resp := postMultipart(t, client, ts.URL+"/ui/tests/upload", map[string]string{
		"name":             "homepage",
		"base_url":         "https://app.acme.test",
		"test_kind":        "stepflow",
		"definition_json":  `{"name":"homepage check","steps":[{"type":"goto","url":"https://app.acme.test"},{"type":"expect_title_contains","contains":"Acme"}]}`,
		"interval_seconds": "60",
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasPrefix(resp.Request.URL.Path, "/ui/tests/"))
	assert.Contains(t, resp.Request.URL.Path, "id-")
}

func TestUploadRejectsReservedHost(t *testing.T) {
	_, _, token, ts := newTestServer(t)
	client := newClientWithCookies(t)
	login(t, client, ts, token).Body.Close()

	resp := postMultipart(t, client, ts.URL+"/ui/tests/upload", map[string]string{
		"name":             "bad",
		"base_url":         "https://localhost",
		"test_kind":        "stepflow",
		"definition_json":  `{"name":"x","steps":[{"type":"goto","url":"https://localhost"}]}`,
	})
	defer resp.Body.Close()
	assert.Equal(t, ts.URL+"/ui/tests/upload", resp.Request.URL.String())
}

func TestRunLogTailStreamsCapturedLines(t *testing.T) {
	srv, tenant, token, ts := newTestServer(t)
	client := newClientWithCookies(t)
	login(t, client, ts, token).Body.Close()

	test, err := srv.Store.CreateTest(context.Background(), registrystore.Test{
		ID: "test-1", TenantID: tenant.ID, Name: "homepage", BaseURL: "https://app.acme.test",
		TestKind: registrystore.TestKindStepflow, IntervalSeconds: 60, TimeoutSeconds: 30,
		DownAfterFailures: 2, UpAfterSuccesses: 2, Enabled: true, CreatedAt: 1000,
	})
	require.NoError(t, err)

	claimed, err := srv.Store.Claim(context.Background(), 1, 300, 1000, func() string { return "run-1" })
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	runDir := srv.ArtifactsDir + "/" + tenant.ID + "/" + test.ID + "/run-1"
	require.NoError(t, writeTestArtifact(runDir, "run.log", "line one\nline two\n"))

	_, err = srv.Store.Complete(context.Background(), registrystore.CompleteInput{
		RunID: "run-1", Status: registrystore.RunStatusFail, ErrorMessage: "boom",
	}, 1001)
	require.NoError(t, err)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ui/runs/run-1/logs"
	header := http.Header{}
	for _, c := range client.Jar.Cookies(mustParseURL(t, ts.URL)) {
		header.Add("Cookie", c.Name+"="+c.Value)
	}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err)
	defer conn.Close()

	var received []string
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			break
		}
		received = append(received, string(msg))
	}
	assert.Contains(t, received, "line one")
	assert.Contains(t, received, "line two")
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func writeTestArtifact(dir, name, contents string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, name), []byte(contents), 0o644)
}
