package devserver

import "sync"

// Notice types sent to browsers.
const (
	NoticeReload = "reload" // full page reload
	NoticeCSS    = "css"    // re-fetch stylesheets in place
)

// Notice is a live-reload message.
type Notice struct {
	Type  string   `json:"type"`
	Paths []string `json:"paths,omitempty"`
}

// hub fans notices out to connected clients. Each client has a small
// buffer; a client that falls behind loses notices instead of blocking the
// sender.
type hub struct {
	mu      sync.Mutex
	clients map[chan Notice]struct{}
}

func newHub() *hub {
	return &hub{clients: make(map[chan Notice]struct{})}
}

func (h *hub) subscribe() chan Notice {
	ch := make(chan Notice, 8)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *hub) unsubscribe(ch chan Notice) {
	h.mu.Lock()
	delete(h.clients, ch)
	h.mu.Unlock()
}

func (h *hub) broadcast(n Notice) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	sent := 0
	for ch := range h.clients {
		select {
		case ch <- n:
			sent++
		default:
		}
	}
	return sent
}

func (h *hub) len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
