package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/LipPkg/LipIndex/pkg/core"
	"github.com/LipPkg/LipIndex/pkg/index"
)

const (
	// firehoseSnapshotLimit caps the init snapshot and each poll batch.
	firehoseSnapshotLimit = 50

	firehosePollInterval = 5 * time.Second
	heartbeatInterval    = 30 * time.Second

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 45 * time.Second // must be shorter than pongWait
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// HandleFirehose is the polling fallback: a page of packages ordered by
// most recent update.
func (s *Server) HandleFirehose(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("perPage"))

	result, err := s.index.Search(index.SearchOptions{
		Page:    page,
		PerPage: perPage,
		Sort:    index.SortUpdated,
		Order:   index.OrderDesc,
	})
	if err != nil {
		logger.Errorf("Firehose page failed: %v", err)
		s.writeError(w, http.StatusInternalServerError, "Firehose failed", "The index query failed")
		return
	}

	s.writeJSON(w, http.StatusOK, FirehoseResponse{
		Packages:   result.Packages,
		Count:      result.TotalCount,
		Page:       result.Page,
		PerPage:    result.PerPage,
		TotalPages: result.TotalPages,
	})
}

// HandleFirehoseWS streams package upserts over a websocket. The first
// message is an init snapshot of recent packages (optionally filtered by
// ?since=RFC3339); afterwards the client receives either pushed events
// (hub connected) or periodic poll batches. The connection is write-only
// from the client's perspective.
func (s *Server) HandleFirehoseWS(w http.ResponseWriter, r *http.Request) {
	var since time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "Invalid since", "since must be an RFC3339 timestamp")
			return
		}
		since = t.UTC()
	}

	snapshot, err := s.recentPackages(since)
	if err != nil {
		logger.Errorf("Firehose snapshot failed: %v", err)
		s.writeError(w, http.StatusInternalServerError, "Firehose failed", "The index query failed")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warnf("Firehose upgrade failed: %v", err)
		return
	}
	defer func() {
		_ = conn.Close()
	}()

	mode := "poll"
	if s.hub != nil {
		mode = "push"
	}
	init := map[string]interface{}{
		"type":     "init",
		"mode":     mode,
		"packages": snapshot,
		"count":    len(snapshot),
	}
	if err := writeDeadlineJSON(conn, init); err != nil {
		return
	}

	// The client never sends data frames; the read loop exists to service
	// pongs and to notice the peer going away.
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if s.hub != nil {
		s.pushLoop(r.Context(), conn, readDone)
		return
	}

	cursor := since
	if len(snapshot) > 0 {
		cursor = snapshot[0].Updated
	}
	s.pollLoop(r.Context(), conn, readDone, cursor)
}

// pushLoop forwards hub events to one client. Backpressure is handled by
// the hub (slow listeners lose events) and by the write deadline.
func (s *Server) pushLoop(ctx context.Context, conn *websocket.Conn, readDone <-chan struct{}) {
	id, events := s.hub.Register()
	defer s.hub.Unregister(id)

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-readDone:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			msg := map[string]interface{}{"type": "package", "package": ev.Package}
			if err := writeDeadlineJSON(conn, msg); err != nil {
				return
			}
		case <-heartbeat.C:
			if err := writeHeartbeat(conn); err != nil {
				return
			}
		case <-ping.C:
			if err := writePing(conn); err != nil {
				return
			}
		}
	}
}

// pollLoop periodically re-queries the index and sends everything newer
// than the cursor. Used when no realtime hub is attached.
func (s *Server) pollLoop(ctx context.Context, conn *websocket.Conn, readDone <-chan struct{}, cursor time.Time) {
	poll := time.NewTicker(firehosePollInterval)
	defer poll.Stop()
	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-readDone:
			return
		case <-poll.C:
			batch, err := s.recentPackages(cursor)
			if err != nil {
				logger.Warnf("Firehose poll failed: %v", err)
				continue
			}
			if len(batch) == 0 {
				continue
			}
			cursor = batch[0].Updated
			msg := map[string]interface{}{
				"type":     "package_batch",
				"packages": batch,
				"count":    len(batch),
			}
			if err := writeDeadlineJSON(conn, msg); err != nil {
				return
			}
		case <-heartbeat.C:
			if err := writeHeartbeat(conn); err != nil {
				return
			}
		case <-ping.C:
			if err := writePing(conn); err != nil {
				return
			}
		}
	}
}

// recentPackages returns the most recently updated packages, newest
// first, keeping only those updated strictly after since.
func (s *Server) recentPackages(since time.Time) ([]*core.Package, error) {
	result, err := s.index.Search(index.SearchOptions{
		PerPage: firehoseSnapshotLimit,
		Sort:    index.SortUpdated,
		Order:   index.OrderDesc,
	})
	if err != nil {
		return nil, err
	}
	if since.IsZero() {
		return result.Packages, nil
	}

	filtered := result.Packages[:0]
	for _, pkg := range result.Packages {
		if pkg.Updated.After(since) {
			filtered = append(filtered, pkg)
		}
	}
	return filtered, nil
}

func writeDeadlineJSON(conn *websocket.Conn, v interface{}) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}

func writeHeartbeat(conn *websocket.Conn) error {
	return writeDeadlineJSON(conn, map[string]interface{}{
		"type": "heartbeat",
		"ts":   time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func writePing(conn *websocket.Conn) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.PingMessage, nil)
}
