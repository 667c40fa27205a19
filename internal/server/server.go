// Package server exposes the running scan over HTTP: health, status, stop,
// and a WebSocket feed of detections.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"

	barcodescan "github.com/e7canasta/orion-care-sensor/modules/barcode-scan"
	"github.com/e7canasta/orion-care-sensor/modules/framebus"
)

// latestID is the bus subscriber backing the latest detection on /api/scan.
const latestID = "api-latest"

// degradedDropRate marks the service degraded when emitters lose more than
// this share of detection events.
const degradedDropRate = 0.5

// Scan is the part of a barcodescan.Handle the server needs.
type Scan interface {
	Stats() barcodescan.Stats
	Cancel()
}

// HealthStatus represents the health state of the scanner
type HealthStatus struct {
	Status        string         `json:"status"` // "healthy", "degraded", "idle"
	UptimeSeconds int64          `json:"uptime_seconds"`
	ScanActive    bool           `json:"scan_active"`
	DropRate      float64        `json:"drop_rate"`
	SlowestSink   string         `json:"slowest_sink,omitempty"`
	Process       *ProcessStatus `json:"process,omitempty"`
}

// ScanStatus is the body of GET /api/scan.
type ScanStatus struct {
	ID             string    `json:"id"`
	State          string    `json:"state"`
	Frames         uint64    `json:"frames"`
	Detects        uint64    `json:"detects"`
	Batches        uint64    `json:"batches"`
	Delivered      uint64    `json:"delivered"`
	CallbackErrors uint64    `json:"callback_errors"`
	LoopErrors     uint64    `json:"loop_errors"`
	Chimes         uint64    `json:"chimes"`
	Bus            BusStatus `json:"bus"`

	Camera  *CameraStatus   `json:"camera,omitempty"`
	Surface *SurfaceStatus  `json:"surface,omitempty"`
	Decoder *DecoderStatus  `json:"decoder,omitempty"`
	Latest  *framebus.Event `json:"latest,omitempty"`
}

// CameraStatus summarizes streamcapture.StreamStats.
type CameraStatus struct {
	Source     string  `json:"source"`
	Resolution string  `json:"resolution"`
	FPSTarget  float64 `json:"fps_target"`
	FPSReal    float64 `json:"fps_real"`
	Frames     uint64  `json:"frames"`
	Dropped    uint64  `json:"dropped"`
	Reconnects uint32  `json:"reconnects"`
	Connected  bool    `json:"connected"`
}

// SurfaceStatus summarizes framesupplier.SurfaceStats.
type SurfaceStatus struct {
	Published   uint64  `json:"published"`
	Overwritten uint64  `json:"overwritten"`
	FPS         float64 `json:"fps,omitempty"`
	Stable      bool    `json:"stable"`
}

// DecoderStatus summarizes decode.BridgeStats.
type DecoderStatus struct {
	Detects             uint64 `json:"detects"`
	Decoded             uint64 `json:"decoded"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
}

// BusStatus summarizes framebus.BusStats.
type BusStatus struct {
	Published uint64             `json:"published"`
	Sent      uint64             `json:"sent"`
	Dropped   uint64             `json:"dropped"`
	DropRate  float64            `json:"drop_rate"`
	Sinks     map[string]float64 `json:"sinks,omitempty"` // per-subscriber drop rate
}

// Server is the HTTP control surface.
type Server struct {
	bus     framebus.Bus
	latest  *framebus.Receiver
	ws      http.Handler
	started time.Time
	router  *mux.Router

	mu     sync.RWMutex
	scanID string
	scan   Scan
	http   *http.Server
}

// New builds the router. ws serves /ws and may be nil.
func New(bus framebus.Bus, ws http.Handler) *Server {
	s := &Server{
		bus:     bus,
		ws:      ws,
		started: time.Now(),
	}

	if bus != nil {
		latest, err := bus.SubscribeLatest(latestID)
		if err != nil {
			slog.Warn("server: latest detection unavailable", "error", err)
		}
		s.latest = latest
	}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/scan", s.handleScan).Methods(http.MethodGet)
	r.HandleFunc("/api/scan/stop", s.handleStop).Methods(http.MethodPost)
	if ws != nil {
		r.Handle("/ws", ws).Methods(http.MethodGet)
	}
	s.router = r

	return s
}

// Attach makes scan the one reported and stopped by the server.
func (s *Server) Attach(id string, scan Scan) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scanID = id
	s.scan = scan
}

// Handler returns the router.
func (s *Server) Handler() http.Handler { return s.router }

// Start listens on addr and serves in the background.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.mu.Lock()
	s.http = srv
	s.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server: http server failed", "error", err)
		}
	}()

	slog.Info("server: listening", "addr", ln.Addr().String())
	return nil
}

// Shutdown stops the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.RLock()
	srv := s.http
	s.mu.RUnlock()

	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (s *Server) current() (string, Scan) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scanID, s.scan
}

// Health returns the current health status.
func (s *Server) Health() HealthStatus {
	status := HealthStatus{
		Status:        "idle",
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
		Process:       processStatus(),
	}

	if _, scan := s.current(); scan != nil && scan.Stats().State == barcodescan.StateActive {
		status.ScanActive = true
		status.Status = "healthy"
	}

	if s.bus != nil {
		bs := s.bus.Stats()
		status.DropRate = framebus.CalculateDropRate(bs)
		status.SlowestSink, _ = framebus.SlowestSink(bs)
		if status.ScanActive && status.DropRate > degradedDropRate {
			status.Status = "degraded"
		}
	}

	return status
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Health())
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	id, scan := s.current()
	if scan == nil {
		writeError(w, http.StatusNotFound, "no scan attached")
		return
	}

	st := scan.Stats()
	body := ScanStatus{
		ID:             id,
		State:          st.State.String(),
		Frames:         st.Frames,
		Detects:        st.Detects,
		Batches:        st.Batches,
		Delivered:      st.Delivered,
		CallbackErrors: st.CallbackErrors,
		LoopErrors:     st.LoopErrors,
		Chimes:         st.Chime.Triggered,
	}

	if s.bus != nil {
		bs := s.bus.Stats()
		body.Bus = BusStatus{
			Published: bs.TotalPublished,
			Sent:      bs.TotalSent,
			Dropped:   bs.TotalDropped,
			DropRate:  framebus.CalculateDropRate(bs),
			Sinks:     framebus.SinkDropRates(bs),
		}
	}
	if s.latest != nil {
		if ev, ok := s.latest.TryReceive(); ok {
			body.Latest = &ev
		}
	}

	if cs := st.Stream; cs != nil {
		body.Camera = &CameraStatus{
			Source:     cs.SourceStream,
			Resolution: cs.Resolution,
			FPSTarget:  cs.FPSTarget,
			FPSReal:    cs.FPSReal,
			Frames:     cs.FrameCount,
			Dropped:    cs.FramesDropped,
			Reconnects: cs.Reconnects,
			Connected:  cs.IsConnected,
		}
	}
	if ss := st.Surface; ss != nil {
		body.Surface = &SurfaceStatus{Published: ss.Published, Overwritten: ss.Overwritten}
		if ss.Cadence != nil {
			body.Surface.FPS = ss.Cadence.FPSMean
			body.Surface.Stable = ss.Cadence.IsStable
		}
	}
	if ds := st.Decoder; ds != nil {
		body.Decoder = &DecoderStatus{
			Detects:             ds.Detects,
			Decoded:             ds.Decoded,
			ConsecutiveFailures: ds.ConsecutiveFailures,
		}
	}

	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	id, scan := s.current()
	if scan == nil {
		writeError(w, http.StatusNotFound, "no scan attached")
		return
	}

	slog.Info("server: stop requested", "scan_id", id, "remote", r.RemoteAddr)
	scan.Cancel()

	writeJSON(w, http.StatusOK, map[string]string{
		"id":    id,
		"state": scan.Stats().State.String(),
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("server: write response failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
