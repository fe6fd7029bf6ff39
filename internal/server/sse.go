package server

import (
	"fmt"
	"net/http"
	"sync"
)

// Live reload endpoints, registered only when Config.LiveReload is set.
const (
	EventsPath       = "/__events"
	ClientScriptPath = "/__livereload.js"
)

const clientScript = `(() => {
  const source = new EventSource("/__events");
  source.onmessage = (event) => {
    if (event.data === "reload") {
      location.reload();
    }
  };
})();
`

// hub fans reload signals out to connected event streams.
type hub struct {
	mu      sync.Mutex
	clients map[chan struct{}]struct{}
	closed  bool
	done    chan struct{}
}

func newHub() *hub {
	return &hub{
		clients: make(map[chan struct{}]struct{}),
		done:    make(chan struct{}),
	}
}

func (h *hub) subscribe() (chan struct{}, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, false
	}
	ch := make(chan struct{}, 1)
	h.clients[ch] = struct{}{}
	return ch, true
}

func (h *hub) unsubscribe(ch chan struct{}) {
	h.mu.Lock()
	delete(h.clients, ch)
	h.mu.Unlock()
}

func (h *hub) broadcast() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.clients {
		select {
		case ch <- struct{}{}:
		default:
			// A reload is already pending for this client.
		}
	}
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// close ends every open stream and rejects new ones.
func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	close(h.done)
}

func (h *hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ch, ok := h.subscribe()
	if !ok {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	defer h.unsubscribe(ch)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	_, _ = fmt.Fprint(w, "data: connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-h.done:
			return
		case <-ch:
			_, _ = fmt.Fprint(w, "data: reload\n\n")
			flusher.Flush()
		}
	}
}

func (s *Server) serveClientScript(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", s.types.Lookup(".js"))
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = fmt.Fprint(w, clientScript)
}
