package upstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/faultline/internal/core/apperror"
	"github.com/vietddude/faultline/internal/core/correlation"
)

func TestHTTPProbe_Healthy(t *testing.T) {
	var gotID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID = r.Header.Get(correlation.Header)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	p := NewHTTPProbe("search", srv.URL, time.Second)
	defer p.Close()

	id := correlation.NewID()
	require.NoError(t, p.Check(correlation.WithID(context.Background(), id)))
	assert.Equal(t, id, gotID)
}

func TestHTTPProbe_ClassifiesFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "12")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"slow down","code":"throttled"}}`))
	}))
	defer srv.Close()

	err := NewHTTPProbe("search", srv.URL, time.Second).Check(context.Background())
	ae, ok := apperror.As(err)
	require.True(t, ok)
	assert.Equal(t, apperror.CodeRateLimited, ae.Code())
	assert.Equal(t, 12, ae.RetryAfterSeconds())
	assert.Equal(t, "throttled", ae.Details().UpstreamCode)
	assert.Equal(t, "search", ae.Details().Service)
}

func TestHTTPProbe_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	err := NewHTTPProbe("search", url, time.Second).Check(context.Background())
	require.Error(t, err)
	_, ok := apperror.As(err)
	assert.False(t, ok)
}
