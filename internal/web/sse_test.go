package web

import (
	"bufio"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/navikt/zconf/internal/models"
)

type sseMessage struct {
	id    string
	event string
	data  string
}

// readMessage reads one event from an event stream, skipping comments
func readMessage(t *testing.T, r *bufio.Reader) sseMessage {
	t.Helper()
	var msg sseMessage
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")

		switch {
		case line == "":
			if msg.event != "" || msg.data != "" {
				return msg
			}
		case strings.HasPrefix(line, "id: "):
			msg.id = strings.TrimPrefix(line, "id: ")
		case strings.HasPrefix(line, "event: "):
			msg.event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			msg.data += strings.TrimPrefix(line, "data: ")
		}
	}
}

func subscribe(t *testing.T, srv *httptest.Server, stream string) *bufio.Reader {
	t.Helper()
	resp, err := http.Get(srv.URL + "?stream=" + stream)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	return bufio.NewReader(resp.Body)
}

func newSSEServer(t *testing.T) (*SSEManager, *httptest.Server) {
	t.Helper()
	manager := NewSSEManager(zaptest.NewLogger(t))
	srv := httptest.NewServer(manager)
	t.Cleanup(func() {
		manager.Shutdown()
		srv.Close()
	})
	return manager, srv
}

func TestSSEUnknownStream(t *testing.T) {
	_, srv := newSSEServer(t)

	resp, err := http.Get(srv.URL + "?stream=nope")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestNotifySessionUpdate(t *testing.T) {
	manager, srv := newSSEServer(t)

	snap := &models.SessionSnapshot{
		ID:          "abc",
		JoinCode:    "12345",
		RemoteCalls: []string{},
		Status:      models.SessionStatusIdle,
		Notify:      models.InitialNotification(),
	}
	manager.NotifySessionUpdate(snap)

	reader := subscribe(t, srv, "abc")

	joining := snap.Clone()
	joining.Status = models.SessionStatusJoining
	joining.Joined = models.True
	manager.NotifySessionUpdate(joining)

	msg := readMessage(t, reader)
	assert.Equal(t, UpdateEvent, msg.event)
	assert.NotEmpty(t, msg.id)

	var got models.SessionSnapshot
	require.NoError(t, json.Unmarshal([]byte(msg.data), &got))
	assert.Equal(t, "abc", got.ID)
	assert.Equal(t, models.SessionStatusJoining, got.Status)
	assert.Equal(t, models.True, got.Joined)

	// Updates of other sessions go to their own streams
	manager.NotifySessionUpdate(&models.SessionSnapshot{ID: "other", RemoteCalls: []string{}})
	left := snap.Clone()
	left.Status = models.SessionStatusLeft
	manager.NotifySessionUpdate(left)

	next := readMessage(t, reader)
	require.NoError(t, json.Unmarshal([]byte(next.data), &got))
	assert.Equal(t, "abc", got.ID)
	assert.Equal(t, models.SessionStatusLeft, got.Status)
	assert.NotEqual(t, msg.id, next.id)
}

func TestRemoveSessionDisconnects(t *testing.T) {
	manager, srv := newSSEServer(t)

	manager.NotifySessionUpdate(&models.SessionSnapshot{ID: "abc", RemoteCalls: []string{}})
	reader := subscribe(t, srv, "abc")

	manager.RemoveSession("abc")

	done := make(chan error, 1)
	go func() {
		_, err := io.ReadAll(reader)
		done <- err
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream was not closed")
	}

	resp, err := http.Get(srv.URL + "?stream=abc")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// Removing twice is harmless
	manager.RemoveSession("abc")
}
