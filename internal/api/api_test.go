package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jsherman999/watercooler/internal/bus"
	"github.com/jsherman999/watercooler/internal/config"
	"github.com/jsherman999/watercooler/internal/hub"
	"github.com/jsherman999/watercooler/internal/signing"
)

func testConfig() *config.Config {
	cfg := &config.Config{
		Debug:        true,
		AllowedHosts: []string{"localhost:8000"},
		Secret:       "test-secret",
	}
	cfg.Token.SocketTTL = 30 * time.Minute
	cfg.Token.WebhookTTL = time.Minute
	return cfg
}

func newTestServer(t *testing.T, cfg *config.Config) (*httptest.Server, *signing.Signer) {
	t.Helper()

	signer := signing.New(cfg.Secret)
	b := bus.NewMemory()
	h := hub.New(cfg, signer, b, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	require.NoError(t, b.Start(ctx, h.Dispatch))

	ts := httptest.NewServer(New(cfg, signer, h, zerolog.Nop()).Router())
	t.Cleanup(func() {
		ts.Close()
		cancel()
	})
	return ts, signer
}

func dial(t *testing.T, ts *httptest.Server, token string, header http.Header) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/socket?channel=" + url.QueryEscape(token)
	dialer := websocket.Dialer{HandshakeTimeout: 2 * time.Second}
	conn, resp, err := dialer.Dial(wsURL, header)
	if conn != nil {
		t.Cleanup(func() { _ = conn.Close() })
	}
	return conn, resp, err
}

func mustDial(t *testing.T, ts *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	conn, _, err := dial(t, ts, token, nil)
	require.NoError(t, err)
	return conn
}

func readText(t *testing.T, conn *websocket.Conn, timeout time.Duration) (string, error) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	_, payload, err := conn.ReadMessage()
	return string(payload), err
}

// settle gives in-flight registrations a moment to reach the run loop.
func settle() { time.Sleep(100 * time.Millisecond) }

func TestPeerRelay(t *testing.T) {
	ts, signer := newTestServer(t, testConfig())
	token := signer.Sign("42")

	a := mustDial(t, ts, token)
	b := mustDial(t, ts, token)
	settle()

	require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte("hello")))

	got, err := readText(t, b, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "hello", got)

	// Echo suppression: the sender must not hear itself.
	_, err = readText(t, a, 300*time.Millisecond)
	assert.Error(t, err)
}

func TestPeerRelayStaysInChannel(t *testing.T) {
	ts, signer := newTestServer(t, testConfig())

	a := mustDial(t, ts, signer.Sign("42"))
	other := mustDial(t, ts, signer.Sign("43"))
	settle()

	require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte("hello")))

	_, err := readText(t, other, 300*time.Millisecond)
	assert.Error(t, err, "message for channel 42 leaked into channel 43")
}

func sendWebhook(t *testing.T, ts *httptest.Server, signer *signing.Signer, method, path string, body []byte) *http.Response {
	t.Helper()
	fullURL := ts.URL + path
	req, err := http.NewRequest(method, fullURL, bytes.NewReader(body))
	require.NoError(t, err)
	if signer != nil {
		req.Header.Set("X-Signature", signer.SignRequest(method, fullURL, body))
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestWebhookBroadcast(t *testing.T) {
	ts, signer := newTestServer(t, testConfig())

	sub := mustDial(t, ts, signer.Sign("7"))
	settle()

	resp := sendWebhook(t, ts, signer, http.MethodPut, "/task/7", []byte(`{"status":"done"}`))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	ok, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "Ok", string(ok))

	raw, err := readText(t, sub, 2*time.Second)
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal([]byte(raw), &env))
	assert.Equal(t, "task", env.Model)
	assert.Equal(t, "7", env.ID)
	assert.Equal(t, "update", env.Action)
	assert.Equal(t, map[string]any{"status": "done"}, env.Body)
}

func TestWebhookActionMapping(t *testing.T) {
	ts, signer := newTestServer(t, testConfig())

	sub := mustDial(t, ts, signer.Sign("1"))
	settle()

	for method, action := range map[string]string{
		http.MethodPost:   "add",
		http.MethodDelete: "remove",
	} {
		resp := sendWebhook(t, ts, signer, method, "/sprint/1", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		raw, err := readText(t, sub, 2*time.Second)
		require.NoError(t, err)

		var env Envelope
		require.NoError(t, json.Unmarshal([]byte(raw), &env))
		assert.Equal(t, "sprint", env.Model)
		assert.Equal(t, action, env.Action)
		assert.Nil(t, env.Body)
	}
}

func TestWebhookMalformedBodyForwardedRaw(t *testing.T) {
	ts, signer := newTestServer(t, testConfig())

	sub := mustDial(t, ts, signer.Sign("3"))
	settle()

	resp := sendWebhook(t, ts, signer, http.MethodPost, "/user/3", []byte("not-json{{"))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	raw, err := readText(t, sub, 2*time.Second)
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal([]byte(raw), &env))
	assert.Equal(t, "not-json{{", env.Body)
}

func TestWebhookMissingSignature(t *testing.T) {
	ts, signer := newTestServer(t, testConfig())

	sub := mustDial(t, ts, signer.Sign("7"))
	settle()

	resp := sendWebhook(t, ts, nil, http.MethodPut, "/task/7", []byte(`{}`))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	_, err := readText(t, sub, 300*time.Millisecond)
	assert.Error(t, err, "rejected webhook must not be broadcast")
}

func TestWebhookTamperedSignature(t *testing.T) {
	ts, signer := newTestServer(t, testConfig())

	fullURL := ts.URL + "/task/7"
	body := []byte(`{"status":"done"}`)
	req, err := http.NewRequest(http.MethodPut, fullURL, bytes.NewReader(body))
	require.NoError(t, err)
	// Signed over a different body.
	req.Header.Set("X-Signature", signer.SignRequest(http.MethodPut, fullURL, []byte(`{}`)))

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWebhookExpiredSignature(t *testing.T) {
	cfg := testConfig()
	cfg.Token.WebhookTTL = time.Second
	ts, signer := newTestServer(t, cfg)

	sub := mustDial(t, ts, signer.Sign("7"))
	settle()

	fullURL := ts.URL + "/task/7"
	body := []byte(`{}`)
	sig := signer.SignRequest(http.MethodPut, fullURL, body)

	// Let the signature age past its TTL.
	time.Sleep(2100 * time.Millisecond)

	req, err := http.NewRequest(http.MethodPut, fullURL, bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("X-Signature", sig)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	_, err = readText(t, sub, 300*time.Millisecond)
	assert.Error(t, err)
}

func TestWebhookUnknownModel(t *testing.T) {
	ts, signer := newTestServer(t, testConfig())

	resp := sendWebhook(t, ts, signer, http.MethodPost, "/widget/7", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestBadTokenClosesSocket(t *testing.T) {
	ts, _ := newTestServer(t, testConfig())

	for _, token := range []string{"", "garbage", signing.New("wrong-key").Sign("42")} {
		conn, _, err := dial(t, ts, token, nil)
		require.NoError(t, err, "handshake itself succeeds; auth happens after")

		_, err = readText(t, conn, 2*time.Second)
		assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation),
			"token %q: expected policy-violation close, got %v", token, err)
	}
}

func TestOriginCheck(t *testing.T) {
	cfg := testConfig()
	cfg.Debug = false
	ts, signer := newTestServer(t, cfg)
	token := signer.Sign("42")

	// Not on the allow-list: rejected at the handshake, before any open logic.
	_, resp, err := dial(t, ts, token, http.Header{"Origin": []string{"http://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// Allow-listed origin connects fine.
	conn, _, err := dial(t, ts, token, http.Header{"Origin": []string{"http://localhost:8000"}})
	require.NoError(t, err)
	require.NotNil(t, conn)
}

func TestUnknownChannelIsValidButEmpty(t *testing.T) {
	ts, signer := newTestServer(t, testConfig())

	// Channel ids are opaque to the hub; a fabricated one just lands in an
	// empty subscription group.
	conn := mustDial(t, ts, signer.Sign("no-such-entity"))
	settle()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("anyone?")))
	_, err := readText(t, conn, 300*time.Millisecond)
	assert.Error(t, err)
}
