package visualiser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"tailscale.com/tsweb"

	"github.com/banshee-data/lidar-visualizer/internal/db"
	"github.com/banshee-data/lidar-visualizer/internal/httputil"
	"github.com/banshee-data/lidar-visualizer/internal/lidar/playback"
	"github.com/banshee-data/lidar-visualizer/internal/lidar/visualiser/pb"
	"github.com/banshee-data/lidar-visualizer/internal/monitoring"
	"github.com/banshee-data/lidar-visualizer/internal/version"
)

const shutdownTimeout = 5 * time.Second

// WebServer serves the browser view, the JSON status and control API,
// Prometheus metrics and the debug pages.
type WebServer struct {
	publisher *Publisher
	metrics   *monitoring.Metrics
	mux       *http.ServeMux
}

// StatusResponse is the body of GET /api/status and POST /api/control.
type StatusResponse struct {
	Version   string           `json:"version"`
	Loader    string           `json:"loader,omitempty"`
	Source    string           `json:"source,omitempty"`
	Playback  *playback.Status `json:"playback,omitempty"`
	Publisher PublisherStats   `json:"publisher"`
}

// NewWebServer registers every route. cache may be nil, in which case the
// debug pages are served without the index cache tools.
func NewWebServer(pub *Publisher, metrics *monitoring.Metrics, cache *db.IndexCache) (*WebServer, error) {
	ws := &WebServer{
		publisher: pub,
		metrics:   metrics,
		mux:       http.NewServeMux(),
	}
	ws.mux.HandleFunc("/", ws.handleIndex)
	ws.mux.HandleFunc("/api/status", ws.handleStatus)
	ws.mux.HandleFunc("/api/control", ws.handleControl)
	ws.mux.HandleFunc("/health", ws.handleHealth)
	if metrics != nil {
		ws.mux.Handle("/metrics", metrics.Handler())
	}

	var debug *tsweb.DebugHandler
	if cache != nil {
		var err error
		if debug, err = cache.AttachAdminRoutes(ws.mux); err != nil {
			return nil, err
		}
	} else {
		debug = tsweb.Debugger(ws.mux)
	}
	debug.HandleFunc("viewer", "Viewer publisher statistics", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, pub.Stats())
	})
	return ws, nil
}

// ServeHTTP implements http.Handler.
func (ws *WebServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log.Trace().Str("method", r.Method).Str("path", r.URL.Path).Msg("http request")
	ws.mux.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully.
func (ws *WebServer) ListenAndServe(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return ws.Serve(ctx, lis)
}

// Serve is ListenAndServe on an existing listener.
func (ws *WebServer) Serve(ctx context.Context, lis net.Listener) error {
	server := &http.Server{
		Handler:           ws,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", lis.Addr().String()).Msg("http server listening")
		if err := server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http server shutdown error")
	}
	log.Debug().Msg("http server stopped")
	return nil
}

func (ws *WebServer) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		httputil.MethodNotAllowed(w)
		return
	}

	wire, cloud := ws.publisher.Latest()
	if cloud == nil {
		httputil.ServiceUnavailable(w, "no frame rendered yet")
		return
	}
	bg, err := playback.ParseBackground(wire.Background)
	if err != nil {
		bg = playback.Black
	}

	var buf bytes.Buffer
	if err := WriteHTML(&buf, cloud, bg); err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func (ws *WebServer) status() StatusResponse {
	out := StatusResponse{
		Version:   version.String(),
		Loader:    ws.publisher.config.Loader,
		Source:    ws.publisher.config.Source,
		Publisher: ws.publisher.Stats(),
	}
	if c := ws.publisher.getController(); c != nil {
		st := c.Status()
		out.Playback = &st
	}
	return out
}

func (ws *WebServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, ws.status())
}

func (ws *WebServer) handleControl(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	controller := ws.publisher.getController()
	if controller == nil {
		httputil.ServiceUnavailable(w, "no playback attached")
		return
	}

	frame, err := httputil.QueryInt(r, "frame", 0)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	q := r.URL.Query()
	cmds, err := controlCommands(&pb.ControlRequest{
		Command:    q.Get("cmd"),
		Frame:      int64(frame),
		Background: q.Get("background"),
	})
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	for _, cmd := range cmds {
		if err := controller.Do(r.Context(), cmd); err != nil {
			if errors.Is(err, playback.ErrInvalidCommand) {
				httputil.BadRequest(w, err.Error())
				return
			}
			httputil.WriteJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		log.Debug().Stringer("command", cmd).Msg("http control")
	}
	httputil.WriteJSON(w, http.StatusOK, ws.status())
}

func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
