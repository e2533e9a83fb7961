// Package api serves the speed gate's HTTP API: the record log, summaries,
// pipeline counters and the external camera endpoints.
package api

import (
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/speedgate/internal/config"
	"github.com/banshee-data/speedgate/internal/control"
	"github.com/banshee-data/speedgate/internal/db"
	"github.com/banshee-data/speedgate/internal/gate"
	"github.com/banshee-data/speedgate/internal/queue"
	"github.com/banshee-data/speedgate/internal/serialmux"
	"github.com/banshee-data/speedgate/internal/timeutil"
	"github.com/banshee-data/speedgate/internal/traffic"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// Options wires the server to the running pipeline. Any component may be nil;
// its routes then answer 503 and its counters are omitted from /api/stats.
type Options struct {
	DB       *db.DB
	GateID   string
	Units    string
	Timezone string
	Config   *config.GateConfig

	Station    *gate.Station
	Controller *control.Controller
	Forwarder  *serialmux.Forwarder
	Serial     serialmux.SerialMuxInterface
	Display    *db.DisplayWorker

	Transits     *queue.Bounded[traffic.TransitRecord]
	DisplayQueue *queue.Bounded[traffic.DisplayRecord]
	Triggers     *queue.Topic[traffic.CameraTrigger]
	Results      *queue.Topic[traffic.CameraResult]

	// TriggerCapacity is the buffer of each trigger stream subscription.
	TriggerCapacity int

	Clock timeutil.Clock
}

type Server struct {
	Options
	started time.Time
}

func NewServer(opts Options) *Server {
	if opts.Units == "" {
		opts.Units = "kmph"
	}
	if opts.Timezone == "" {
		opts.Timezone = "UTC"
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	if opts.TriggerCapacity < 1 {
		opts.TriggerCapacity = 16
	}
	return &Server{Options: opts, started: opts.Clock.Now()}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

// ServeMux returns a mux with every API route registered.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	s.AttachRoutes(mux)
	return mux
}

// AttachRoutes registers the API routes on an existing mux, so they can share
// it with the /debug/ admin routes.
func (s *Server) AttachRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/records", s.listRecords)
	mux.HandleFunc("/api/summary", s.showSummary)
	mux.HandleFunc("/api/infractions", s.listInfractions)
	mux.HandleFunc("/api/stats", s.showStats)
	mux.HandleFunc("/api/config", s.showConfig)
	mux.HandleFunc("/api/camera/results", s.postCameraResult)
	mux.HandleFunc("/api/camera/triggers", s.streamCameraTriggers)
	mux.HandleFunc("/debug/speed-histogram", s.showSpeedHistogram)
}

// requireDB answers 503 when no record log is configured.
func (s *Server) requireDB(w http.ResponseWriter) bool {
	if s.DB == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "record log is not enabled")
		return false
	}
	return true
}
