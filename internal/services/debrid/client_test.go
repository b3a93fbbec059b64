// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package debrid

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient(Config{
		BaseURL:           srv.URL,
		Token:             "token",
		RequestsPerSecond: 1000,
		RetryDelay:        time.Millisecond,
	})
	require.NoError(t, err)
	return c
}

func TestSubmitMagnet(t *testing.T) {
	var selected atomic.Bool
	mux := http.NewServeMux()
	mux.HandleFunc("POST /torrents/addMagnet", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer token", r.Header.Get("Authorization"))
		require.NoError(t, r.ParseForm())
		assert.Contains(t, r.PostForm.Get("magnet"), "urn:btih:")
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"id":"ABC123","uri":"https://x/torrents/info/ABC123"}`)
	})
	mux.HandleFunc("POST /torrents/selectFiles/ABC123", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "all", r.PostForm.Get("files"))
		selected.Store(true)
		w.WriteHeader(http.StatusNoContent)
	})

	c := newTestClient(t, mux)
	id, err := c.Submit(context.Background(), "magnet:?xt=urn:btih:aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	require.NoError(t, err)
	assert.Equal(t, "ABC123", id)
	assert.True(t, selected.Load())
}

func TestSubmitRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /torrents/addMagnet", func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{"id":"X"}`)
	})
	mux.HandleFunc("POST /torrents/selectFiles/X", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	c := newTestClient(t, mux)
	id, err := c.Submit(context.Background(), "magnet:?xt=urn:btih:bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	require.NoError(t, err)
	assert.Equal(t, "X", id)
	assert.Equal(t, int32(3), calls.Load())
}

func TestSubmitDoesNotRetryRateLimit(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /torrents/addMagnet", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	})

	c := newTestClient(t, mux)
	_, err := c.Submit(context.Background(), "magnet:?xt=urn:btih:cccccccccccccccccccccccccccccccccccccccc")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRateLimited)

	var rlErr *RateLimitError
	require.True(t, errors.As(err, &rlErr))
	assert.Equal(t, 7*time.Second, rlErr.RetryAfter)
	assert.Equal(t, int32(1), calls.Load())
}

func TestSubmitSelectFailureDeletesTorrent(t *testing.T) {
	var deleted atomic.Bool
	mux := http.NewServeMux()
	mux.HandleFunc("POST /torrents/addMagnet", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"Y"}`)
	})
	mux.HandleFunc("POST /torrents/selectFiles/Y", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"error":"permission_denied","error_code":9}`)
	})
	mux.HandleFunc("DELETE /torrents/delete/Y", func(w http.ResponseWriter, r *http.Request) {
		deleted.Store(true)
		w.WriteHeader(http.StatusNoContent)
	})

	c := newTestClient(t, mux)
	_, err := c.Submit(context.Background(), "magnet:?xt=urn:btih:dddddddddddddddddddddddddddddddddddddddd")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 9, apiErr.Code)
	assert.Equal(t, "permission_denied", apiErr.Message)
	assert.True(t, deleted.Load())
}

func TestSubmitDirectLink(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /unrestrict/link", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "https://hoster.example/f/abc", r.PostForm.Get("link"))
		fmt.Fprint(w, `{"id":"L","filename":"game.zip","filesize":2048,"download":"https://cdn.example/d/game.zip"}`)
	})

	c := newTestClient(t, mux)
	id, err := c.Submit(context.Background(), "https://hoster.example/f/abc")
	require.NoError(t, err)

	st, err := c.PollStatus(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, PhaseReady, st.Phase)
	assert.Equal(t, "https://cdn.example/d/game.zip", st.DirectLink)
	assert.Equal(t, "game.zip", st.Filename)
	assert.Equal(t, int64(2048), st.Bytes)

	assert.NoError(t, c.Cancel(context.Background(), id))
}

func TestSubmitRejectsUnknownHandle(t *testing.T) {
	c := newTestClient(t, http.NotFoundHandler())
	_, err := c.Submit(context.Background(), "ftp://nope")
	assert.ErrorIs(t, err, ErrUnsupportedHandle)
}

func TestPollStatus(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantPhase Phase
		wantErr   error
		progress  float64
		link      string
	}{
		{name: "queued", body: `{"id":"T","status":"queued","progress":0}`, wantPhase: PhaseTransferring},
		{name: "downloading", body: `{"id":"T","status":"downloading","progress":42.5,"speed":1000,"bytes":100}`, wantPhase: PhaseTransferring, progress: 42.5},
		{name: "downloaded", body: `{"id":"T","status":"downloaded","progress":100,"links":["https://hoster.example/1"]}`, wantPhase: PhaseReady, progress: 100, link: "https://cdn.example/1"},
		{name: "dead", body: `{"id":"T","status":"dead"}`, wantPhase: PhaseFailed},
		{name: "downloaded without links", body: `{"id":"T","status":"downloaded","links":[]}`, wantErr: ErrMalformedResponse},
		{name: "garbage", body: `not json`, wantErr: ErrMalformedResponse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := http.NewServeMux()
			mux.HandleFunc("GET /torrents/info/T", func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, tt.body)
			})
			mux.HandleFunc("POST /unrestrict/link", func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, `{"filename":"game.iso","filesize":10,"download":"https://cdn.example/1"}`)
			})
			c := newTestClient(t, mux)

			st, err := c.PollStatus(context.Background(), "T")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			if tt.wantPhase == PhaseFailed {
				var resErr *ResolutionError
				require.True(t, errors.As(err, &resErr))
				assert.Equal(t, "dead", resErr.Status)
				assert.Equal(t, PhaseFailed, st.Phase)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantPhase, st.Phase)
			assert.Equal(t, tt.progress, st.Progress)
			assert.Equal(t, tt.link, st.DirectLink)
		})
	}
}

func TestPollStatusServerErrorIsTransient(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	_, err := c.PollStatus(context.Background(), "T")
	assert.ErrorIs(t, err, ErrTransientNetwork)
	assert.True(t, IsRetryable(err))
}

func TestCancelIgnoresMissingTorrent(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":"unknown_ressource","error_code":7}`)
	}))

	assert.NoError(t, c.Cancel(context.Background(), "gone"))
	assert.NoError(t, c.Cancel(context.Background(), ""))
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	_, err := NewClient(Config{})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected time.Duration
	}{
		{name: "seconds", input: "30", expected: 30 * time.Second},
		{name: "empty", input: "", expected: 0},
		{name: "garbage", input: "soon", expected: 0},
		{name: "negative", input: "-5", expected: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseRetryAfter(tt.input))
		})
	}
}
