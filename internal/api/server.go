package api

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/shoepad/internal/broker"
	"github.com/banshee-data/shoepad/internal/classify"
	"github.com/banshee-data/shoepad/internal/config"
	"github.com/banshee-data/shoepad/internal/db"
	"github.com/banshee-data/shoepad/internal/recording"
	"github.com/banshee-data/shoepad/internal/sensor"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// Classifier exposes the live classifier. *classify.Worker implements it.
type Classifier interface {
	Latest() (classify.Result, bool)
	Stats() classify.Stats
}

// DeviceLister exposes broker device state. *broker.Broker implements it.
type DeviceLister interface {
	Devices() []broker.DeviceStatus
}

// RunReader reads training runs and stored classifications.
// *db.RunStore implements it.
type RunReader interface {
	ListRuns(ctx context.Context, limit int) ([]*db.Run, error)
	GetRun(ctx context.Context, runID string) (*db.Run, error)
	ListFolds(ctx context.Context, runID string) ([]db.Fold, error)
	FoldHistory(ctx context.Context, runID string, fold int) ([]db.Epoch, error)
	RecentClassifications(ctx context.Context, limit int) ([]db.Classification, error)
}

// Config wires the server to the running subsystems. Nil fields disable
// the endpoints that need them.
type Config struct {
	Store      *sensor.Store
	Recorder   *recording.Recorder
	ReplaySink func(sensor.Reading)
	Classifier Classifier
	Devices    DeviceLister
	Runs       RunReader
	Settings   *config.Settings
	BrokerHost string
}

type Server struct {
	store      *sensor.Store
	recorder   *recording.Recorder
	replaySink func(sensor.Reading)
	classifier Classifier
	devices    DeviceLister
	runs       RunReader
	settings   *config.Settings
	brokerHost string
}

func NewServer(cfg Config) *Server {
	return &Server{
		store:      cfg.Store,
		recorder:   cfg.Recorder,
		replaySink: cfg.ReplaySink,
		classifier: cfg.Classifier,
		devices:    cfg.Devices,
		runs:       cfg.Runs,
		settings:   cfg.Settings,
		brokerHost: cfg.BrokerHost,
	}
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

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", s.showStatus)

	mux.HandleFunc("GET /api/sensors", s.listSensors)
	mux.HandleFunc("GET /api/sensors/{key}", s.showSensor)
	mux.HandleFunc("GET /api/sensors/{key}/chart", s.showSensorChart)

	mux.HandleFunc("POST /api/recording/start", s.startRecording)
	mux.HandleFunc("POST /api/recording/stop", s.stopRecording)
	mux.HandleFunc("POST /api/replay", s.startReplay)
	mux.HandleFunc("DELETE /api/replay", s.stopReplay)

	mux.HandleFunc("GET /api/classification", s.showClassification)
	mux.HandleFunc("GET /api/classifications", s.listClassifications)

	mux.HandleFunc("GET /api/runs", s.listRuns)
	mux.HandleFunc("GET /api/runs/{id}", s.showRun)
	mux.HandleFunc("GET /api/runs/{id}/folds/{fold}", s.showFoldHistory)

	mux.HandleFunc("GET /api/settings", s.showSettings)
	mux.HandleFunc("PUT /api/settings/{key}", s.updateSetting)
	return mux
}
