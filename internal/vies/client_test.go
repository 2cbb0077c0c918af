package vies

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/vatwatch/core/logger"
)

type recordingObserver struct {
	mu    sync.Mutex
	kinds []string
}

func (o *recordingObserver) ObserveViesCall(kind string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.kinds = append(o.kinds, kind)
}

func newTestClient(t *testing.T, h http.HandlerFunc) (*Client, *recordingObserver) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	obs := &recordingObserver{}
	c := NewClient(Config{BaseURL: srv.URL, Timeout: 2 * time.Second}, obs)
	require.NoError(t, c.Init(context.Background()))
	return c, obs
}

func TestClientCheckValidity(t *testing.T) {
	t.Run("valid number", func(t *testing.T) {
		c, obs := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/check-vat-number", r.URL.Path)
			var req checkRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, checkRequest{CountryCode: "PL", VatNumber: "123"}, req)
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"countryCode":"PL","vatNumber":"123","valid":true,"name":"ACME","address":"Main st"}`))
		})
		res, err := c.CheckValidity(context.Background(), "PL", "123")
		require.NoError(t, err)
		assert.True(t, res.Valid)
		assert.Equal(t, "ACME", res.Name)
		assert.Equal(t, []string{"ok"}, obs.kinds)
	})

	t.Run("invalid number", func(t *testing.T) {
		c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"valid":false,"userError":"INVALID"}`))
		})
		res, err := c.CheckValidity(context.Background(), "XX", "123")
		require.NoError(t, err)
		assert.False(t, res.Valid)
	})

	t.Run("user error is classified", func(t *testing.T) {
		c, obs := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"valid":false,"userError":"MS_MAX_CONCURRENT_REQ"}`))
		})
		_, err := c.CheckValidity(context.Background(), "DE", "1")
		require.Error(t, err)
		assert.Equal(t, KindEndpointRateLimited, KindOf(err))
		assert.True(t, IsRecoverable(err))
		assert.Equal(t, []string{"MS_MAX_CONCURRENT_REQ"}, obs.kinds)
	})

	t.Run("error wrappers are classified", func(t *testing.T) {
		c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"actionSucceed":false,"errorWrappers":[{"error":"INVALID_INPUT","message":"bad"}]}`))
		})
		_, err := c.CheckValidity(context.Background(), "DE", "1")
		require.Error(t, err)
		assert.Equal(t, KindInvalidInput, KindOf(err))
		assert.Equal(t, "INVALID_INPUT: bad", err.Error())
	})

	t.Run("html body is a malformed response", func(t *testing.T) {
		c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`<html>down</html>`))
		})
		_, err := c.CheckValidity(context.Background(), "DE", "1")
		require.ErrorIs(t, err, ErrMalformedResponse)
		assert.Equal(t, KindServiceUnavailable, KindOf(err))
	})

	t.Run("missing verdict is a malformed response", func(t *testing.T) {
		c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{}`))
		})
		_, err := c.CheckValidity(context.Background(), "DE", "1")
		require.ErrorIs(t, err, ErrMalformedResponse)
	})

	t.Run("deadline is a timeout", func(t *testing.T) {
		release := make(chan struct{})
		c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
			<-release
		})
		defer close(release)
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		_, err := c.CheckValidity(ctx, "DE", "1")
		require.Error(t, err)
		assert.Equal(t, KindTimeout, KindOf(err))
	})
}

func TestClientSendsOneRequestPerCheck(t *testing.T) {
	var hits atomic.Int32
	c, obs := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		conn, _, err := w.(http.Hijacker).Hijack()
		require.NoError(t, err)
		_ = conn.Close()
	})

	_, err := c.CheckValidity(context.Background(), "DE", "1")
	require.Error(t, err)
	assert.Equal(t, KindConnectionError, KindOf(err))
	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, []string{string(KindConnectionError)}, obs.kinds)
}

func TestRestyDiagnosticsUseStructuredLog(t *testing.T) {
	buf := &bytes.Buffer{}
	prev := logger.L
	logger.L = slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	t.Cleanup(func() { logger.L = prev })

	restyLog{}.Warnf("Attempt %d failed", 2)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "WARN", line["level"])
	assert.Equal(t, "vies", line["component"])
	assert.Equal(t, "Attempt 2 failed", line["detail"])
}

func TestClientInit(t *testing.T) {
	c := NewClient(Config{}, nil)
	_, err := c.CheckValidity(context.Background(), "DE", "1")
	require.Error(t, err)

	require.NoError(t, c.Init(context.Background()))
	first := c.rc
	require.NoError(t, c.Init(context.Background()))
	assert.Same(t, first, c.rc)
	assert.Equal(t, DefaultBaseURL, c.cfg.BaseURL)
}
