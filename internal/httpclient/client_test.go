package httpclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/catalog-harvester/internal/retry"
)

func newTestClient() *Client {
	return New(Config{UserAgent: "test-agent", Timeout: time.Second}, retry.New(3, time.Millisecond, 5*time.Millisecond), zap.NewNop())
}

func TestGetJSONRetriesServerErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if n < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		assert.Equal(t, "2", r.URL.Query().Get("category"))
		fmt.Fprint(w, `{"ok": true}`)
	}))
	defer srv.Close()

	var out struct {
		OK bool `json:"ok"`
	}
	err := newTestClient().GetJSON(context.Background(), srv.URL, url.Values{"category": {"2"}}, &out)
	require.NoError(t, err)
	require.True(t, out.OK)
	require.Equal(t, int32(3), calls.Load())
}

func TestGetJSONDoesNotRetryClientErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	var out map[string]any
	err := newTestClient().GetJSON(context.Background(), srv.URL, nil, &out)
	var statusErr *retry.StatusError
	require.True(t, errors.As(err, &statusErr))
	require.Equal(t, http.StatusNotFound, statusErr.StatusCode)
	require.Equal(t, int32(1), calls.Load())
}

func TestGetJSONGivesUpAfterCeiling(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	var out map[string]any
	err := newTestClient().GetJSON(context.Background(), srv.URL, nil, &out)
	require.Error(t, err)
	require.Equal(t, int32(4), calls.Load())
}

func TestGetJSONParseFailureIsNotRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		fmt.Fprint(w, `{not json`)
	}))
	defer srv.Close()

	var out map[string]any
	err := newTestClient().GetJSON(context.Background(), srv.URL, nil, &out)
	require.ErrorContains(t, err, "decode")
	require.Equal(t, int32(1), calls.Load())
}

func TestDownloadReturnsBodyAndContentType(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		fmt.Fprint(w, "%PDF-1.4")
	}))
	defer srv.Close()

	payload, err := newTestClient().Download(context.Background(), srv.URL+"/manual.pdf", true)
	require.NoError(t, err)
	require.Equal(t, "%PDF-1.4", string(payload.Body))
	require.Equal(t, "application/pdf", payload.ContentType)
}

func TestGetJSONRetriesAfterClientTimeout(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			select {
			case <-time.After(300 * time.Millisecond):
			case <-r.Context().Done():
			}
			return
		}
		fmt.Fprint(w, `{"ok": true}`)
	}))
	defer srv.Close()

	client := New(Config{Timeout: 100 * time.Millisecond}, retry.New(3, time.Millisecond, 5*time.Millisecond), zap.NewNop())
	var out struct {
		OK bool `json:"ok"`
	}
	require.NoError(t, client.GetJSON(context.Background(), srv.URL, nil, &out))
	require.True(t, out.OK)
	require.Equal(t, int32(2), calls.Load())
}

func TestGetJSONStopsWhenCallerContextEnds(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	var out map[string]any
	err := newTestClient().GetJSON(ctx, srv.URL, nil, &out)
	require.Error(t, err)
	require.Equal(t, int32(1), calls.Load())
}

func TestRestyLogsGoThroughZap(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			<-r.Context().Done()
			return
		}
		fmt.Fprint(w, `{}`)
	}))
	defer srv.Close()

	core, logs := observer.New(zapcore.DebugLevel)
	client := New(Config{Timeout: 50 * time.Millisecond}, retry.New(2, time.Millisecond, 2*time.Millisecond), zap.New(core))
	var out map[string]any
	require.NoError(t, client.GetJSON(context.Background(), srv.URL, nil, &out))

	warnings := logs.FilterLoggerName("resty").FilterLevelExact(zapcore.WarnLevel).All()
	require.Len(t, warnings, 1)
	require.Contains(t, warnings[0].Message, "Attempt 1")
}
