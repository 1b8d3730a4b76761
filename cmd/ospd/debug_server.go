// SPDX-FileCopyrightText: 2024 The ospcast Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/openscreen-go/ospcast/pkg/streamstats"
)

// debugServer exposes the daemon's live state for external inspection over
// plain HTTP and a push WebSocket.
type debugServer struct {
	d        *daemon
	upgrader websocket.Upgrader

	subsMu sync.Mutex
	subs   map[*websocket.Conn]struct{}
}

func newDebugServer(d *daemon) *debugServer {
	s := &debugServer{d: d, subs: make(map[*websocket.Conn]struct{})}
	d.SetStatusListener(s.pushStatus)
	return s
}

// pushStatus broadcasts the current status snapshot to every connected
// debug websocket client; it is registered as the daemon's status listener
// and fires whenever the active peer set changes.
func (s *debugServer) pushStatus() {
	s.d.mu.Lock()
	active := len(s.d.sessions)
	s.d.mu.Unlock()

	s.broadcast(statusResponse{
		InstanceName: s.d.cfg.Publisher.InstanceName,
		Fingerprint:  hexFingerprint(s.d.fingerprint),
		ActivePeers:  active,
	})
}

func (s *debugServer) router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/stats/{media}", s.handleStats).Methods(http.MethodGet)
	r.HandleFunc("/pair/{instance_id}/password", s.handleSubmitPassword).Methods(http.MethodPost)
	r.HandleFunc("/ws", s.handleWebSocket)
	return r
}

type statusResponse struct {
	InstanceName string `json:"instance_name"`
	Fingerprint  string `json:"fingerprint"`
	ActivePeers  int    `json:"active_peers"`
}

func (s *debugServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.d.mu.Lock()
	active := len(s.d.sessions)
	s.d.mu.Unlock()

	resp := statusResponse{
		InstanceName: s.d.cfg.Publisher.InstanceName,
		Fingerprint:  hexFingerprint(s.d.fingerprint),
		ActivePeers:  active,
	}
	writeJSON(w, resp)
}

func (s *debugServer) handleStats(w http.ResponseWriter, r *http.Request) {
	mediaStr := mux.Vars(r)["media"]
	var media streamstats.MediaType
	switch mediaStr {
	case "audio":
		media = streamstats.Audio
	case "video":
		media = streamstats.Video
	default:
		http.Error(w, "unknown media type, want audio or video", http.StatusBadRequest)
		return
	}
	writeJSON(w, s.d.stats.Snapshot(media))
}

func (s *debugServer) handleSubmitPassword(w http.ResponseWriter, r *http.Request) {
	instanceID, err := strconv.ParseUint(mux.Vars(r)["instance_id"], 10, 64)
	if err != nil {
		http.Error(w, "invalid instance_id", http.StatusBadRequest)
		return
	}

	var body struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := s.d.SubmitPairingPassword(instanceID, body.Password); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleWebSocket upgrades and registers a client to receive a status push
// whenever the daemon's peer set changes; the connection is otherwise
// read-only from the client's perspective.
func (s *debugServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Warn("cmd/ospd: debug websocket upgrade failed")
		return
	}

	s.subsMu.Lock()
	s.subs[conn] = struct{}{}
	s.subsMu.Unlock()

	defer func() {
		s.subsMu.Lock()
		delete(s.subs, conn)
		s.subsMu.Unlock()
		_ = conn.Close()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// broadcast pushes msg to every currently connected debug websocket client.
func (s *debugServer) broadcast(msg any) {
	b, err := json.Marshal(msg)
	if err != nil {
		return
	}
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for conn := range s.subs {
		_ = conn.WriteMessage(websocket.TextMessage, b)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
