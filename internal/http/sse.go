package http

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	applog "livespese/internal/log"
)

// keepAliveInterval also refreshes the session's idle timer, so a page left
// open keeps its session.
var keepAliveInterval = 15 * time.Second

// handleEvents streams re-rendered fragments whenever the session's view
// changes. Each fragment is sent only when its markup differs from the last
// one sent on this stream.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	id, c := s.sessions.session(w, r)
	logger := applog.FromContext(r.Context()).With(applog.FieldSessionID, id)

	rc := http.NewResponseController(w)
	// Streams outlive the server write timeout.
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		logger.DebugContext(r.Context(), "Could not clear write deadline", applog.FieldError, err)
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	changes, stopWatching := c.Watch()
	defer stopWatching()

	s.metrics.openStreams.Add(1)
	defer s.metrics.openStreams.Add(-1)

	sent := make(map[string][]byte, len(streamFragments))
	push := func() error {
		data := newPageData(c.State())
		for _, name := range streamFragments {
			body, err := s.templates.render(name, data)
			if err != nil {
				return err
			}
			if prev, ok := sent[name]; ok && bytes.Equal(prev, body) {
				continue
			}
			if err := writeEvent(w, name, body); err != nil {
				return err
			}
			sent[name] = body
		}
		return rc.Flush()
	}

	if err := push(); err != nil {
		logger.DebugContext(r.Context(), "Event stream closed", applog.FieldError, err)
		return
	}

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-s.streamsDone:
			return
		case _, ok := <-changes:
			if !ok {
				// Session stopped; the browser reconnects and gets a new one.
				return
			}
			if err := push(); err != nil {
				logger.DebugContext(r.Context(), "Event stream closed", applog.FieldError, err)
				return
			}
		case <-ticker.C:
			s.sessions.lookup(id)
			if _, err := io.WriteString(w, ": keep-alive\n\n"); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

// writeEvent writes one server-sent event. Multi-line payloads are split
// across data lines.
func writeEvent(w io.Writer, event string, data []byte) error {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "event: %s\n", event)
	for _, line := range bytes.Split(data, []byte("\n")) {
		buf.WriteString("data: ")
		buf.Write(bytes.TrimRight(line, "\r"))
		buf.WriteByte('\n')
	}
	buf.WriteByte('\n')
	_, err := w.Write(buf.Bytes())
	return err
}
