// ABOUTME: Tests for the Slack Web API transport.
// ABOUTME: Validates auth headers, envelope decoding, and ok=false error mapping.

package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlack_Ping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth.test", r.URL.Path)
		assert.Equal(t, "Bearer xoxb-test", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	s := NewSlack("xoxb-test", srv.URL, nil)
	assert.NoError(t, s.Ping(context.Background()))
}

func TestSlack_Ping_NotOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"ok": false, "error": "invalid_auth"})
	}))
	defer srv.Close()

	s := NewSlack("xoxb-bad", srv.URL, nil)
	err := s.Ping(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid_auth")
}

func TestSlack_Post_ReturnsTimestamp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat.postMessage", r.URL.Path)

		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "C123", payload["channel"])
		assert.Equal(t, "hello", payload["text"])
		assert.Equal(t, false, payload["unfurl_links"])

		json.NewEncoder(w).Encode(map[string]any{"ok": true, "ts": "1700000000.000100"})
	}))
	defer srv.Close()

	s := NewSlack("xoxb-test", srv.URL, nil)
	ts, err := s.Post(context.Background(), "C123", "hello")
	require.NoError(t, err)
	assert.Equal(t, "1700000000.000100", ts)
}

func TestSlack_PostThread_IncludesThreadTS(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "1700000000.000100", payload["thread_ts"])
		json.NewEncoder(w).Encode(map[string]any{"ok": true, "ts": "1700000000.000200"})
	}))
	defer srv.Close()

	s := NewSlack("xoxb-test", srv.URL, nil)
	err := s.PostThread(context.Background(), "C123", "1700000000.000100", "reply")
	assert.NoError(t, err)
}

func TestSlack_History(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/conversations.history", r.URL.Path)
		assert.Equal(t, "Bearer xoxb-test", r.Header.Get("Authorization"))
		assert.Equal(t, "C123", r.URL.Query().Get("channel"))
		assert.Equal(t, "20", r.URL.Query().Get("limit"))

		json.NewEncoder(w).Encode(map[string]any{
			"ok": true,
			"messages": []map[string]any{
				{"ts": "3.0", "user": "U2", "text": "status"},
				{"ts": "2.0", "thread_ts": "1.0", "user": "U1", "text": "a reply"},
				{"ts": "1.0", "bot_id": "B1", "text": "Working on: something"},
			},
		})
	}))
	defer srv.Close()

	s := NewSlack("xoxb-test", srv.URL, nil)
	msgs, err := s.History(context.Background(), "C123", 20)
	require.NoError(t, err)
	require.Len(t, msgs, 3)

	assert.Equal(t, "3.0", msgs[0].TS)
	assert.Equal(t, "U2", msgs[0].User)
	assert.Empty(t, msgs[0].BotID)

	assert.Equal(t, "1.0", msgs[1].ThreadTS)
	assert.Equal(t, "B1", msgs[2].BotID)
	assert.Empty(t, msgs[2].User)
}

func TestSlack_History_NotOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"ok": false, "error": "channel_not_found"})
	}))
	defer srv.Close()

	s := NewSlack("xoxb-test", srv.URL, nil)
	_, err := s.History(context.Background(), "C404", 20)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "channel_not_found")
}

func TestSlack_HTTPErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	s := NewSlack("xoxb-test", srv.URL, nil)
	_, err := s.Post(context.Background(), "C123", "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}
