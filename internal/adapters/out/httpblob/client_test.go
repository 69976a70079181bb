package httpblob

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpload(t *testing.T) {
	var gotBody []byte
	var gotAuth, gotType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotAuth = r.Header.Get("Authorization")
		gotType = r.Header.Get("Content-Type")
		assert.Equal(t, "/storage/v1/object/packages/u1/cfg/1.0.0/package", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL, "tok-123")
	err := c.Upload(context.Background(), "u1/cfg/1.0.0/package", bytes.NewReader([]byte("data")), "application/gzip")
	require.NoError(t, err)
	assert.Equal(t, []byte("data"), gotBody)
	assert.Equal(t, "Bearer tok-123", gotAuth)
	assert.Equal(t, "application/gzip", gotType)
}

func TestUpload_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL, "tok")
	err := c.Upload(context.Background(), "a/b", bytes.NewReader([]byte("x")), "application/gzip")
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestUpload_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer srv.Close()

	c := New(srv.URL, "tok")
	err := c.Upload(context.Background(), "a/b", bytes.NewReader([]byte("x")), "application/gzip")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
	assert.Equal(t, int32(1), calls.Load())
}

func TestPublicURL(t *testing.T) {
	c := New("https://api.example", "tok")
	assert.Equal(t,
		"https://api.example/storage/v1/object/public/packages/u1/cfg/1.0.0/package",
		c.PublicURL("u1/cfg/1.0.0/package"))
}

func TestSignedURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"signedURL":"/object/sign/packages/a/b?token=xyz"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "tok")
	url, err := c.SignedURL(context.Background(), "a/b", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/storage/v1/object/sign/packages/a/b?token=xyz", url)
}

func TestRemove_MissingObjectsAreNotErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(srv.URL, "tok")
	assert.NoError(t, c.Remove(context.Background(), []string{"a/b", "c/d"}))
}
