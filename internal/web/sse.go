package web

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/r3labs/sse/v2"
	"go.uber.org/zap"

	"github.com/navikt/zconf/internal/models"
)

// UpdateEvent is the event name carried by session snapshot updates
const UpdateEvent = "update"

// SSEManager publishes session snapshots as server-sent events. Every session
// has its own stream, named by the session id and served at /events?stream=<id>.
type SSEManager struct {
	server *sse.Server
	log    *zap.Logger
	seq    atomic.Uint64
}

// NewSSEManager creates a new server-sent events manager
func NewSSEManager(logger *zap.Logger) *SSEManager {
	if logger == nil {
		logger = zap.NewNop()
	}

	server := sse.New()
	// Clients load the current snapshot over the API before subscribing
	server.AutoReplay = false
	server.AutoStream = false
	server.Headers = map[string]string{
		"Access-Control-Allow-Origin": "*",
		"X-Accel-Buffering":           "no", // Disable nginx proxy buffering
	}

	return &SSEManager{
		server: server,
		log:    logger.Named("sse"),
	}
}

// ServeHTTP subscribes the client to the stream named by the stream query parameter
func (m *SSEManager) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	stream := r.URL.Query().Get("stream")
	if stream == "" {
		http.Error(w, "missing stream parameter", http.StatusBadRequest)
		return
	}
	if !m.server.StreamExists(stream) {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}

	m.log.Debug("SSE client connected", zap.String("session_id", stream), zap.String("remote", r.RemoteAddr))
	m.server.ServeHTTP(w, r)
	m.log.Debug("SSE client disconnected", zap.String("session_id", stream))
}

// NotifySessionUpdate publishes snap on the stream of its session, creating
// the stream on the first update
func (m *SSEManager) NotifySessionUpdate(snap *models.SessionSnapshot) {
	data, err := json.Marshal(snap)
	if err != nil {
		m.log.Error("failed to encode session update", zap.String("session_id", snap.ID), zap.Error(err))
		return
	}

	m.server.CreateStream(snap.ID)
	m.server.Publish(snap.ID, &sse.Event{
		ID:    []byte(strconv.FormatUint(m.seq.Add(1), 10)),
		Event: []byte(UpdateEvent),
		Data:  data,
	})
}

// RemoveSession closes the stream of a session and disconnects its subscribers
func (m *SSEManager) RemoveSession(id string) {
	if m.server.StreamExists(id) {
		m.server.RemoveStream(id)
	}
}

// Shutdown disconnects every subscriber
func (m *SSEManager) Shutdown() {
	m.server.Close()
}
