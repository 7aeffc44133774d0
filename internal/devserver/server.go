// Package devserver serves the built site and pushes live-reload notices
// to connected browsers over Server-Sent Events.
package devserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"runtime/debug"
	"strings"
	"sync"

	"github.com/tidwall/gjson"
)

const (
	eventsPath = "/__polybem/events"
	reloadPath = "/__polybem/reload"
)

var ErrAlreadyServing = errors.New("dev server already serving")

// Logger receives server warnings.
type Logger interface {
	Warn(format string, args ...any)
}

// Options configures a Server.
type Options struct {
	BaseDir string // directory served at /
	Host    string // default "localhost"
	Port    int    // 0 picks a free port
	Notify  bool   // show a badge in the page on reload notices
	Log     Logger
}

// Server is the development HTTP server.
type Server struct {
	opts Options
	hub  *hub
	done chan struct{}

	mu     sync.Mutex
	srv    *http.Server
	url    string
	closed bool
}

// New creates a Server. Nothing listens until Start.
func New(opts Options) *Server {
	if opts.Host == "" {
		opts.Host = "localhost"
	}
	return &Server{opts: opts, hub: newHub(), done: make(chan struct{})}
}

// Start listens and serves in the background. It returns the base URL,
// e.g. "http://localhost:3000".
func (s *Server) Start() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", http.ErrServerClosed
	}
	if s.srv != nil {
		return "", ErrAlreadyServing
	}

	ln, err := net.Listen("tcp", net.JoinHostPort(s.opts.Host, fmt.Sprint(s.opts.Port)))
	if err != nil {
		return "", fmt.Errorf("listen on port %d: %w", s.opts.Port, err)
	}

	s.srv = &http.Server{Handler: s.Handler()}
	port := ln.Addr().(*net.TCPAddr).Port
	s.url = fmt.Sprintf("http://%s", net.JoinHostPort(s.opts.Host, fmt.Sprint(port)))

	go func(srv *http.Server) {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) && s.opts.Log != nil {
			s.opts.Log.Warn("dev server: %v", err)
		}
	}(s.srv)

	return s.url, nil
}

// URL returns the base URL, empty before Start.
func (s *Server) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.url
}

// Clients returns the number of connected live-reload clients.
func (s *Server) Clients() int {
	return s.hub.len()
}

// Reload notifies clients of changed paths. When every path is a
// stylesheet, clients re-fetch stylesheets; otherwise they reload the page.
func (s *Server) Reload(paths ...string) {
	n := Notice{Type: NoticeReload, Paths: paths}
	if len(paths) > 0 {
		n.Type = NoticeCSS
		for _, p := range paths {
			if !strings.EqualFold(path.Ext(p), ".css") {
				n.Type = NoticeReload
				break
			}
		}
	}
	s.hub.broadcast(n)
}

// Close ends live-reload streams and shuts the server down.
func (s *Server) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.done)
	srv := s.srv
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(eventsPath, s.handleEvents)
	mux.HandleFunc(clientPath, s.handleClient)
	mux.HandleFunc(reloadPath, s.handleReload)
	mux.Handle("/", s.staticHandler())
	return s.recoverer(noCache(mux))
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ch := s.hub.subscribe()
	defer s.hub.unsubscribe(ch)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Connection", "keep-alive")
	io.WriteString(w, ": connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-s.done:
			return
		case n := <-ch:
			data, _ := json.Marshal(n)
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", n.Type, data)
			flusher.Flush()
		}
	}
}

func (s *Server) handleClient(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	w.Write(renderClient(s.opts.Notify))
}

// handleReload accepts {"paths": ["dist/css/style.css"]}; an empty body or
// no paths means a full reload.
func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "read body: "+err.Error(), http.StatusBadRequest)
		return
	}

	var paths []string
	if len(bytes.TrimSpace(body)) > 0 {
		if !gjson.ValidBytes(body) {
			http.Error(w, "invalid JSON", http.StatusBadRequest)
			return
		}
		gjson.GetBytes(body, "paths").ForEach(func(_, v gjson.Result) bool {
			if p := v.String(); p != "" {
				paths = append(paths, p)
			}
			return true
		})
	}

	s.Reload(paths...)
	w.WriteHeader(http.StatusNoContent)
}

// staticHandler serves BaseDir, injecting the live-reload client into HTML
// pages.
func (s *Server) staticHandler() http.Handler {
	root := http.Dir(s.opts.BaseDir)
	files := http.FileServer(root)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := path.Clean("/" + r.URL.Path)
		f, err := root.Open(name)
		if err != nil {
			files.ServeHTTP(w, r)
			return
		}
		info, err := f.Stat()
		f.Close()
		if err != nil {
			files.ServeHTTP(w, r)
			return
		}

		if info.IsDir() {
			if !strings.HasSuffix(r.URL.Path, "/") {
				files.ServeHTTP(w, r) // redirects to the trailing slash
				return
			}
			name = path.Join(name, "index.html")
		}

		ext := strings.ToLower(path.Ext(name))
		if ext != ".html" && ext != ".htm" {
			files.ServeHTTP(w, r)
			return
		}

		page, err := os.ReadFile(filepath.Join(s.opts.BaseDir, filepath.FromSlash(name)))
		if err != nil {
			files.ServeHTTP(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if r.Method == http.MethodHead {
			return
		}
		w.Write(injectScript(page))
	})
}

// injectScript inserts the client script tag before the last </body>, or
// appends it when there is none.
func injectScript(page []byte) []byte {
	i := bytes.LastIndex(bytes.ToLower(page), []byte("</body>"))
	if i < 0 {
		return append(append([]byte(nil), page...), scriptTag...)
	}
	out := make([]byte, 0, len(page)+len(scriptTag))
	out = append(out, page[:i]...)
	out = append(out, scriptTag...)
	return append(out, page[i:]...)
}

func noCache(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-cache")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				if s.opts.Log != nil {
					s.opts.Log.Warn("dev server: panic serving %s: %v\n%s", r.URL.Path, rec, debug.Stack())
				}
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
