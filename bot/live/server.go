package live

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"strings"
	"time"
)

// DefaultPort is used when no port is configured.
const DefaultPort = 4173

const htmlEventLimit = 50

// Option configures a Server.
type Option func(*Server)

// WithPort sets the listen port.
func WithPort(port int) Option {
	return func(s *Server) {
		if port > 0 {
			s.port = port
		}
	}
}

// WithPublicBase sets an externally reachable base URL, e.g. behind a
// tunnel. It is preferred when composing share links.
func WithPublicBase(base string) Option {
	return func(s *Server) { s.publicBase = strings.TrimRight(base, "/") }
}

// WithLogger sets the structured logger. Default: discard.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// Server exposes the run registry over HTTP.
type Server struct {
	reg        *Registry
	port       int
	publicBase string
	log        *slog.Logger
}

// NewServer wraps a registry.
func NewServer(reg *Registry, opts ...Option) *Server {
	s := &Server{reg: reg, port: DefaultPort, log: nopLogger}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handler returns the route mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/telegram/live/", s.handleRun)
	return mux
}

// ListenAndServe blocks until the context is cancelled, then shuts the
// server down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.log.Info("live server listening", "port", s.port)

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"ok":   true,
		"runs": s.reg.Len(),
	})
}

func (s *Server) handleRun(w http.ResponseWriter, req *http.Request) {
	id := strings.TrimPrefix(req.URL.Path, "/telegram/live/")
	wantJSON := strings.HasSuffix(id, ".json")
	id = strings.TrimSuffix(id, ".json")
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, req)
		return
	}

	run, ok := s.reg.Get(id)
	if !ok {
		http.NotFound(w, req)
		return
	}

	if wantJSON {
		s.writeRunJSON(w, run)
		return
	}
	s.writeRunHTML(w, run)
}

func (s *Server) writeRunJSON(w http.ResponseWriter, run Run) {
	links := s.ShareLinks(run.ID)
	share := ""
	if len(links) > 0 {
		share = links[0]
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		Run
		ShareLink  string   `json:"shareLink"`
		ShareLinks []string `json:"shareLinks"`
	}{Run: run, ShareLink: share, ShareLinks: links})
}

var runTemplate = template.Must(template.New("run").Parse(`<!doctype html>
<html><head><meta charset="utf-8"><meta http-equiv="refresh" content="3">
<title>Live run {{.ID}}</title>
<style>
body{font-family:monospace;max-width:56rem;margin:2rem auto;padding:0 1rem}
.status{font-weight:bold}
.event{border-left:2px solid #888;padding-left:.6rem;margin:.3rem 0;white-space:pre-wrap}
pre{white-space:pre-wrap;background:#f4f4f4;padding:.8rem}
</style></head><body>
<h2>Run {{.ID}}</h2>
<p>Actor: {{.Actor}}</p>
<p class="status">Status: {{.Status}}{{if .Detail}} — {{.Detail}}{{end}}</p>
<h3>Prompt</h3><pre>{{.Prompt}}</pre>
{{if .ResultPreview}}<h3>Result</h3><pre>{{.ResultPreview}}</pre>{{end}}
{{if .Error}}<h3>Error</h3><pre>{{.Error}}</pre>{{end}}
<h3>Events (latest first)</h3>
{{range .Events}}<div class="event">{{.Text}}</div>
{{else}}<p>No events yet.</p>{{end}}
</body></html>
`))

func (s *Server) writeRunHTML(w http.ResponseWriter, run Run) {
	// Latest events first, capped for the page.
	events := append([]Event(nil), run.Events...)
	sort.SliceStable(events, func(i, j int) bool { return events[i].At > events[j].At })
	if len(events) > htmlEventLimit {
		events = events[:htmlEventLimit]
	}
	run.Events = events

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := runTemplate.Execute(w, run); err != nil {
		s.log.Warn("render live run", "id", run.ID, "err", err)
	}
}

// ShareLinks composes candidate URLs for a run, most useful first:
// configured public base, loopback, then up to three LAN addresses.
func (s *Server) ShareLinks(id string) []string {
	path := "/telegram/live/" + id
	var links []string
	if s.publicBase != "" {
		links = append(links, s.publicBase+path)
	}
	links = append(links, fmt.Sprintf("http://127.0.0.1:%d%s", s.port, path))
	for _, ip := range lanAddrs(3) {
		links = append(links, fmt.Sprintf("http://%s:%d%s", ip, s.port, path))
	}

	seen := make(map[string]struct{}, len(links))
	out := links[:0]
	for _, l := range links {
		if _, dup := seen[l]; dup {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}
	return out
}

// lanAddrs returns non-loopback IPv4 addresses of up interfaces.
func lanAddrs(limit int) []string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil
	}
	var out []string
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipnet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			ip4 := ipnet.IP.To4()
			if ip4 == nil || ip4.IsLoopback() {
				continue
			}
			out = append(out, ip4.String())
			if len(out) >= limit {
				return out
			}
		}
	}
	return out
}
