// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The ProbeChain is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the ProbeChain. If not, see <http://www.gnu.org/licenses/>.

package introspect

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/cors"
	"golang.org/x/sync/semaphore"

	"github.com/probechain/irvm/vm"
)

// Server publishes read-only views of a vm.Process over HTTP (GET
// /snapshot, /fibers) and WebSocket (/watch, a push feed of snapshots),
// wrapping the router with rs/cors so a browser dashboard on another
// origin can poll it.
type Server struct {
	process *vm.Process

	history *lru.Cache // monotonic tick -> Snapshot
	historyMu sync.Mutex
	tick    int64

	upgrader websocket.Upgrader

	// concurrent full-table dumps are bounded so a burst of /snapshot?full=1
	// requests cannot force many large allocations at once.
	fullDumpSem *semaphore.Weighted

	watchersMu sync.Mutex
	watchers   map[*websocket.Conn]struct{}
}

// NewServer creates a Server over process with a bounded snapshot history
// of historySize entries.
func NewServer(process *vm.Process, historySize int) (*Server, error) {
	hist, err := lru.New(historySize)
	if err != nil {
		return nil, err
	}
	return &Server{
		process:     process,
		history:     hist,
		upgrader:    websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024},
		fullDumpSem: semaphore.NewWeighted(2),
		watchers:    make(map[*websocket.Conn]struct{}),
	}, nil
}

// Handler builds the CORS-wrapped httprouter mux the caller should serve.
func (s *Server) Handler() http.Handler {
	r := httprouter.New()
	r.GET("/snapshot", s.handleSnapshot)
	r.GET("/fibers", s.handleFibers)
	r.GET("/watch", s.handleWatch)

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet},
	})
	return c.Handler(r)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
	full := req.URL.Query().Get("full") == "1"
	if full {
		ctx, cancel := context.WithTimeout(req.Context(), 5*time.Second)
		defer cancel()
		if err := s.fullDumpSem.Acquire(ctx, 1); err != nil {
			http.Error(w, "server busy", http.StatusServiceUnavailable)
			return
		}
		defer s.fullDumpSem.Release(1)
	}

	snap := s.recordSnapshot(full)
	writeJSON(w, snap)
}

func (s *Server) handleFibers(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	snap := takeSnapshot(s.process, false)
	writeJSON(w, snap.Fibers)
}

// handleWatch upgrades to a WebSocket and pushes a snapshot every time
// Notify is called, until the client disconnects.
func (s *Server) handleWatch(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
	conn, err := s.upgrader.Upgrade(w, req, nil)
	if err != nil {
		return
	}
	s.watchersMu.Lock()
	s.watchers[conn] = struct{}{}
	s.watchersMu.Unlock()

	defer func() {
		s.watchersMu.Lock()
		delete(s.watchers, conn)
		s.watchersMu.Unlock()
		conn.Close()
	}()

	// Drain the read side so the peer's close frames are observed; this
	// connection is push-only, it never expects client messages.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Notify takes a fresh snapshot and pushes it to every connected watcher,
// intended to be called by the host right after each Execute/Resume.
func (s *Server) Notify() {
	snap := s.recordSnapshot(false)

	s.watchersMu.Lock()
	defer s.watchersMu.Unlock()
	for conn := range s.watchers {
		if err := conn.WriteJSON(snap); err != nil {
			conn.Close()
			delete(s.watchers, conn)
		}
	}
}

func (s *Server) recordSnapshot(full bool) Snapshot {
	snap := takeSnapshot(s.process, full)
	s.historyMu.Lock()
	s.tick++
	s.history.Add(s.tick, snap)
	s.historyMu.Unlock()
	return snap
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
