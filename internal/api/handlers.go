package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/banshee-data/shoepad/internal/broker"
	"github.com/banshee-data/shoepad/internal/classify"
	"github.com/banshee-data/shoepad/internal/config"
	"github.com/banshee-data/shoepad/internal/db"
	"github.com/banshee-data/shoepad/internal/httputil"
	"github.com/banshee-data/shoepad/internal/recording"
	"github.com/banshee-data/shoepad/internal/security"
	"github.com/banshee-data/shoepad/internal/sensor"
	"github.com/banshee-data/shoepad/internal/version"
)

// Status is the body of GET /api/status.
type Status struct {
	Version        string                `json:"version"`
	BrokerHost     string                `json:"broker_host"`
	Devices        []broker.DeviceStatus `json:"devices"`
	Recorder       string                `json:"recorder"`
	Classification *classify.Result      `json:"classification,omitempty"`
	Classifier     *classify.Stats       `json:"classifier,omitempty"`
}

// SensorInfo is one entry of GET /api/sensors.
type SensorInfo struct {
	Key       string            `json:"key"`
	Buffered  int               `json:"buffered"`
	Placement *config.Placement `json:"placement,omitempty"`
}

// RunDetail is the body of GET /api/runs/{id}.
type RunDetail struct {
	*db.Run
	FoldResults []db.Fold `json:"fold_results"`
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	st := Status{
		Version:    version.String(),
		BrokerHost: s.brokerHost,
		Devices:    []broker.DeviceStatus{},
		Recorder:   "disabled",
	}
	if s.devices != nil {
		st.Devices = s.devices.Devices()
	}
	if s.recorder != nil {
		st.Recorder = s.recorder.State().String()
	}
	if s.classifier != nil {
		if res, ok := s.classifier.Latest(); ok {
			st.Classification = &res
		}
		stats := s.classifier.Stats()
		st.Classifier = &stats
	}
	httputil.WriteJSONOK(w, st)
}

func (s *Server) listSensors(w http.ResponseWriter, r *http.Request) {
	out := []SensorInfo{}
	if s.store != nil {
		sizes := s.store.Sizes()
		for _, key := range s.store.Keys() {
			info := SensorInfo{Key: key, Buffered: sizes[key]}
			if s.settings != nil {
				if p, ok := s.settings.Get(key); ok {
					info.Placement = &p
				}
			}
			out = append(out, info)
		}
	}
	httputil.WriteJSONOK(w, out)
}

func (s *Server) sensorBuffer(w http.ResponseWriter, key string) (*sensor.Buffer, bool) {
	if s.store == nil {
		httputil.NotFound(w, "no sensor store")
		return nil, false
	}
	buf, ok := s.store.Get(key)
	if !ok {
		httputil.NotFound(w, fmt.Sprintf("unknown sensor %q", key))
		return nil, false
	}
	return buf, true
}

func (s *Server) showSensor(w http.ResponseWriter, r *http.Request) {
	buf, ok := s.sensorBuffer(w, r.PathValue("key"))
	if !ok {
		return
	}
	last, ok := httputil.QueryInt(w, r, "last", 0)
	if !ok {
		return
	}
	readings := buf.Snapshot()
	if last > 0 && last < len(readings) {
		readings = readings[len(readings)-last:]
	}
	httputil.WriteJSONOK(w, readings)
}

func (s *Server) recorderOrError(w http.ResponseWriter) bool {
	if s.recorder == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "recorder not configured")
		return false
	}
	return true
}

// writeRecorderError maps recorder errors to HTTP statuses.
func writeRecorderError(w http.ResponseWriter, err error) {
	if errors.Is(err, recording.ErrInvalidState) {
		httputil.WriteJSONError(w, http.StatusConflict, err.Error())
		return
	}
	httputil.InternalServerError(w, err.Error())
}

func (s *Server) startRecording(w http.ResponseWriter, r *http.Request) {
	if !s.recorderOrError(w) {
		return
	}
	if err := s.recorder.StartRecording(); err != nil {
		writeRecorderError(w, err)
		return
	}
	httputil.WriteJSONOK(w, map[string]string{"state": s.recorder.State().String()})
}

func (s *Server) stopRecording(w http.ResponseWriter, r *http.Request) {
	if !s.recorderOrError(w) {
		return
	}
	path, err := s.recorder.StopRecording()
	if err != nil {
		writeRecorderError(w, err)
		return
	}
	httputil.WriteJSONOK(w, map[string]string{"state": s.recorder.State().String(), "path": path})
}

type replayRequest struct {
	Path string `json:"path"`
}

func (s *Server) startReplay(w http.ResponseWriter, r *http.Request) {
	if !s.recorderOrError(w) {
		return
	}
	var req replayRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	path, err := security.ResolveRecordingPath(s.recorder.Dir(), req.Path)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	sink := s.replaySink
	if sink == nil {
		sink = func(sensor.Reading) {}
	}
	if err := s.recorder.StartReplay(path, sink); err != nil {
		if errors.Is(err, recording.ErrInvalidState) {
			writeRecorderError(w, err)
			return
		}
		httputil.BadRequest(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, map[string]string{"state": s.recorder.State().String(), "path": path})
}

func (s *Server) stopReplay(w http.ResponseWriter, r *http.Request) {
	if !s.recorderOrError(w) {
		return
	}
	if err := s.recorder.StopReplay(); err != nil {
		writeRecorderError(w, err)
		return
	}
	httputil.WriteJSONOK(w, map[string]string{"state": s.recorder.State().String()})
}

func (s *Server) showClassification(w http.ResponseWriter, r *http.Request) {
	if s.classifier == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "classifier not running")
		return
	}
	res, ok := s.classifier.Latest()
	if !ok {
		httputil.NotFound(w, "no classification yet")
		return
	}
	httputil.WriteJSONOK(w, res)
}

func (s *Server) runsOrError(w http.ResponseWriter) bool {
	if s.runs == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "database not configured")
		return false
	}
	return true
}

func (s *Server) listClassifications(w http.ResponseWriter, r *http.Request) {
	if !s.runsOrError(w) {
		return
	}
	limit, ok := httputil.QueryInt(w, r, "limit", 0)
	if !ok {
		return
	}
	out, err := s.runs.RecentClassifications(r.Context(), limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to retrieve classifications: %v", err))
		return
	}
	if out == nil {
		out = []db.Classification{}
	}
	httputil.WriteJSONOK(w, out)
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	if !s.runsOrError(w) {
		return
	}
	limit, ok := httputil.QueryInt(w, r, "limit", 0)
	if !ok {
		return
	}
	runs, err := s.runs.ListRuns(r.Context(), limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to retrieve runs: %v", err))
		return
	}
	if runs == nil {
		runs = []*db.Run{}
	}
	httputil.WriteJSONOK(w, runs)
}

func (s *Server) showRun(w http.ResponseWriter, r *http.Request) {
	if !s.runsOrError(w) {
		return
	}
	id := r.PathValue("id")
	run, err := s.runs.GetRun(r.Context(), id)
	if errors.Is(err, db.ErrNotFound) {
		httputil.NotFound(w, fmt.Sprintf("run %s not found", id))
		return
	}
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to retrieve run: %v", err))
		return
	}
	folds, err := s.runs.ListFolds(r.Context(), id)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to retrieve folds: %v", err))
		return
	}
	if folds == nil {
		folds = []db.Fold{}
	}
	httputil.WriteJSONOK(w, RunDetail{Run: run, FoldResults: folds})
}

func (s *Server) showFoldHistory(w http.ResponseWriter, r *http.Request) {
	if !s.runsOrError(w) {
		return
	}
	fold, err := strconv.Atoi(r.PathValue("fold"))
	if err != nil || fold < 1 {
		httputil.BadRequest(w, "Invalid fold number")
		return
	}
	hist, err := s.runs.FoldHistory(r.Context(), r.PathValue("id"), fold)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to retrieve history: %v", err))
		return
	}
	if len(hist) == 0 {
		httputil.NotFound(w, "no history for fold")
		return
	}
	httputil.WriteJSONOK(w, hist)
}

func (s *Server) showSettings(w http.ResponseWriter, r *http.Request) {
	if s.settings == nil {
		httputil.WriteJSONOK(w, map[string]config.Placement{})
		return
	}
	httputil.WriteJSONOK(w, s.settings.All())
}

func (s *Server) updateSetting(w http.ResponseWriter, r *http.Request) {
	if s.settings == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "settings not configured")
		return
	}
	var p config.Placement
	if err := httputil.DecodeJSON(w, r, &p); err != nil {
		httputil.BadRequest(w, "Body must be a JSON array [x, y]")
		return
	}
	key := r.PathValue("key")
	if err := s.settings.Set(key, p); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to save settings: %v", err))
		return
	}
	httputil.WriteJSONOK(w, map[string]config.Placement{key: p})
}
