package workspace

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T, url string, ttl time.Duration) *Client {
	t.Helper()
	c, err := NewClient(ClientConfig{
		BaseURL:  url,
		Timeout:  100 * time.Millisecond,
		CacheTTL: ttl,
	}, zap.NewNop())
	require.NoError(t, err)
	return c
}

func TestClient_ActiveProject(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, activePath, r.URL.Path)
		fmt.Fprint(w, `{"active_project_id":"proj-42"}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, time.Minute)
	assert.Equal(t, "proj-42", c.ActiveProject(context.Background()))
}

func TestClient_NullActiveProject(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"active_project_id":null}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, time.Minute)
	assert.Equal(t, "", c.ActiveProject(context.Background()))
}

func TestClient_CacheHitSkipsNetwork(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		fmt.Fprint(w, `{"active_project_id":"proj-42"}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, time.Minute)
	for i := 0; i < 5; i++ {
		assert.Equal(t, "proj-42", c.ActiveProject(context.Background()))
	}
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_CacheExpiry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		fmt.Fprint(w, `{"active_project_id":"proj-42"}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 20*time.Millisecond)
	c.ActiveProject(context.Background())
	time.Sleep(30 * time.Millisecond)
	c.ActiveProject(context.Background())

	assert.Equal(t, int32(2), calls.Load())
}

func TestClient_Invalidate(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		fmt.Fprint(w, `{"active_project_id":"proj-42"}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, time.Minute)
	c.ActiveProject(context.Background())
	c.Invalidate()
	c.ActiveProject(context.Background())

	assert.Equal(t, int32(2), calls.Load())
}

func TestClient_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, time.Minute)
	assert.Equal(t, "", c.ActiveProject(context.Background()))
}

func TestClient_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := newTestClient(t, url, time.Minute)
	assert.Equal(t, "", c.ActiveProject(context.Background()))
}

func TestClient_MalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{{{`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, time.Minute)
	assert.Equal(t, "", c.ActiveProject(context.Background()))
}

func TestClient_NonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, time.Minute)
	assert.Equal(t, "", c.ActiveProject(context.Background()))
}

func TestClient_FailureNotCached(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "warming up", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"active_project_id":"proj-42"}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, time.Minute)
	assert.Equal(t, "", c.ActiveProject(context.Background()))
	assert.Equal(t, "proj-42", c.ActiveProject(context.Background()))
}

func TestNewClient_RequiresBaseURL(t *testing.T) {
	_, err := NewClient(ClientConfig{}, zap.NewNop())
	require.Error(t, err)
}
