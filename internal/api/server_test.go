package api

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/shoepad/internal/broker"
	"github.com/banshee-data/shoepad/internal/classify"
	"github.com/banshee-data/shoepad/internal/config"
	"github.com/banshee-data/shoepad/internal/db"
	"github.com/banshee-data/shoepad/internal/fsutil"
	"github.com/banshee-data/shoepad/internal/recording"
	"github.com/banshee-data/shoepad/internal/sensor"
	"github.com/banshee-data/shoepad/internal/timeutil"
)

type fakeClassifier struct {
	latest *classify.Result
}

func (f *fakeClassifier) Latest() (classify.Result, bool) {
	if f.latest == nil {
		return classify.Result{}, false
	}
	return *f.latest, true
}

func (f *fakeClassifier) Stats() classify.Stats { return classify.Stats{Classified: 3, Dropped: 1} }

type fakeDevices struct{}

func (fakeDevices) Devices() []broker.DeviceStatus {
	return []broker.DeviceStatus{{Device: "esp1", Online: true, Readings: 42}}
}

type testEnv struct {
	server     *Server
	handler    http.Handler
	fs         *fsutil.MemoryFileSystem
	store      *sensor.Store
	recorder   *recording.Recorder
	runs       *db.RunStore
	classifier *fakeClassifier
	settings   *config.Settings
}

func setupTestServer(t *testing.T) *testEnv {
	t.Helper()
	database, err := db.NewDB(cloneAPITestDB(t))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	memfs := fsutil.NewMemoryFileSystem()
	clock := timeutil.NewMockClock(time.UnixMilli(1700000000000))
	env := &testEnv{
		fs:         memfs,
		store:      sensor.NewStore(100),
		recorder:   recording.NewRecorder(recording.Config{FS: memfs, Clock: clock, Dir: "recordings"}),
		runs:       db.NewRunStore(database, clock),
		classifier: &fakeClassifier{},
		settings:   config.LoadSettings(memfs, "settings.json"),
	}
	env.server = NewServer(Config{
		Store:      env.store,
		Recorder:   env.recorder,
		Classifier: env.classifier,
		Devices:    fakeDevices{},
		Runs:       env.runs,
		Settings:   env.settings,
		BrokerHost: "localhost",
	})
	env.handler = env.server.ServeMux()
	return env
}

func (e *testEnv) do(t *testing.T, method, target string, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestStatus(t *testing.T) {
	env := setupTestServer(t)

	rec := env.do(t, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	st := decode[Status](t, rec)
	assert.Equal(t, "localhost", st.BrokerHost)
	assert.Equal(t, "idle", st.Recorder)
	assert.Nil(t, st.Classification)
	require.Len(t, st.Devices, 1)
	assert.Equal(t, "esp1", st.Devices[0].Device)
	require.NotNil(t, st.Classifier)
	assert.Equal(t, 3, st.Classifier.Classified)

	env.classifier.latest = &classify.Result{Label: "toe", Confidence: 0.9}
	st = decode[Status](t, env.do(t, http.MethodGet, "/api/status", ""))
	require.NotNil(t, st.Classification)
	assert.Equal(t, "toe", st.Classification.Label)
}

func TestStatus_NothingConfigured(t *testing.T) {
	handler := NewServer(Config{}).ServeMux()
	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	st := decode[Status](t, rec)
	assert.Equal(t, "disabled", st.Recorder)
	assert.Empty(t, st.Devices)
}

func TestSensors(t *testing.T) {
	env := setupTestServer(t)
	for i := 0; i < 5; i++ {
		env.store.Append(sensor.Reading{Sensor: "esp1_1", Timestamp: int64(1000 + i), X: int16(i)})
	}
	env.store.Append(sensor.Reading{Sensor: "esp1_0", Timestamp: 1000})
	require.NoError(t, env.settings.Set("esp1_0", config.Placement{10, 20}))

	rec := env.do(t, http.MethodGet, "/api/sensors", "")
	require.Equal(t, http.StatusOK, rec.Code)
	infos := decode[[]SensorInfo](t, rec)
	require.Len(t, infos, 2)
	assert.Equal(t, "esp1_0", infos[0].Key)
	require.NotNil(t, infos[0].Placement)
	assert.Equal(t, config.Placement{10, 20}, *infos[0].Placement)
	assert.Equal(t, 5, infos[1].Buffered)
	assert.Nil(t, infos[1].Placement)

	rec = env.do(t, http.MethodGet, "/api/sensors/esp1_1?last=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	readings := decode[[]sensor.Reading](t, rec)
	require.Len(t, readings, 2)
	assert.Equal(t, int16(4), readings[1].X)

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/sensors/esp1_1?last=0", "").Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/sensors/missing", "").Code)
}

func TestSensorChart(t *testing.T) {
	env := setupTestServer(t)
	for i := 0; i < 10; i++ {
		env.store.Append(sensor.Reading{Sensor: "esp1_0", Timestamp: int64(1000 + 20*i), X: int16(i), Y: 2, Z: -3})
	}

	rec := env.do(t, http.MethodGet, "/api/sensors/esp1_0/chart?points=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.Contains(t, body, "esp1_0")
	assert.Contains(t, body, "readings=5")

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/sensors/esp1_0/chart?points=x", "").Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/sensors/nope/chart", "").Code)
}

func TestRecording(t *testing.T) {
	env := setupTestServer(t)

	rec := env.do(t, http.MethodPost, "/api/recording/start", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "recording", decode[map[string]string](t, rec)["state"])

	assert.Equal(t, http.StatusConflict, env.do(t, http.MethodPost, "/api/recording/start", "").Code)

	env.recorder.Record(sensor.Reading{Sensor: "esp1_0", Timestamp: 1700000000010, T: 1, X: 2, Y: 3, Z: 4})

	rec = env.do(t, http.MethodPost, "/api/recording/stop", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]string](t, rec)
	assert.Equal(t, "idle", body["state"])
	assert.True(t, strings.HasPrefix(body["path"], "recordings/recording_"))

	data, err := env.fs.ReadFile(body["path"])
	require.NoError(t, err)
	assert.Contains(t, string(data), "esp1_0")

	assert.Equal(t, http.StatusConflict, env.do(t, http.MethodPost, "/api/recording/stop", "").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, env.do(t, http.MethodGet, "/api/recording/start", "").Code)
}

func TestReplay(t *testing.T) {
	env := setupTestServer(t)
	require.NoError(t, env.fs.MkdirAll("recordings", 0755))
	require.NoError(t, env.fs.WriteFile("recordings/walk.json",
		[]byte(`{"init_time": 1000, "esp1_0": [[1000, 1, 2, 3, 4], [1020, 1, 2, 3, 4]]}`), 0644))
	require.NoError(t, env.fs.WriteFile("recordings/bad.json", []byte(`{"esp1_0": []}`), 0644))

	rec := env.do(t, http.MethodPost, "/api/replay", `{"path": "walk.json"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "replaying", decode[map[string]string](t, rec)["state"])

	assert.Equal(t, http.StatusConflict, env.do(t, http.MethodPost, "/api/replay", `{"path": "walk.json"}`).Code)

	rec = env.do(t, http.MethodDelete, "/api/replay", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, recording.StateIdle, env.recorder.State())

	assert.Equal(t, http.StatusConflict, env.do(t, http.MethodDelete, "/api/replay", "").Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/api/replay", `{"path": "../../etc/passwd.json"}`).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/api/replay", `{"path": "walk.txt"}`).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/api/replay", `{"path": "bad.json"}`).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/api/replay", `not json`).Code)
	assert.Equal(t, recording.StateIdle, env.recorder.State())
}

func TestClassification(t *testing.T) {
	env := setupTestServer(t)

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/classification", "").Code)

	env.classifier.latest = &classify.Result{Label: "heel", Confidence: 0.7, Timesteps: 50}
	rec := env.do(t, http.MethodGet, "/api/classification", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "heel", decode[classify.Result](t, rec).Label)

	ctx := context.Background()
	for _, label := range []string{"heel", "toe"} {
		require.NoError(t, env.runs.RecordClassification(ctx, &db.Classification{
			Label: label, Probabilities: []float64{0.5, 0.5}, Sensors: []string{"a"},
		}))
	}
	rec = env.do(t, http.MethodGet, "/api/classifications?limit=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[[]db.Classification](t, rec)
	require.Len(t, got, 1)

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/classifications?limit=-1", "").Code)
}

func TestRuns(t *testing.T) {
	env := setupTestServer(t)
	ctx := context.Background()

	rec := env.do(t, http.MethodGet, "/api/runs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String())

	run := &db.Run{DataDir: "data", Classes: []string{"heel", "toe"}, Folds: 5}
	require.NoError(t, env.runs.InsertRun(ctx, run))
	require.NoError(t, env.runs.InsertFold(ctx, db.Fold{RunID: run.RunID, Fold: 1, TestLoss: 0.4, TestAccuracy: 0.8}))
	require.NoError(t, env.runs.InsertEpochs(ctx, run.RunID, 1, []db.Epoch{{Epoch: 0, Loss: 0.7}, {Epoch: 1, Loss: 0.5}}))

	rec = env.do(t, http.MethodGet, "/api/runs?limit=10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	runs := decode[[]db.Run](t, rec)
	require.Len(t, runs, 1)
	assert.Equal(t, run.RunID, runs[0].RunID)

	rec = env.do(t, http.MethodGet, "/api/runs/"+run.RunID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var detail struct {
		RunID       string    `json:"run_id"`
		FoldResults []db.Fold `json:"fold_results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))
	assert.Equal(t, run.RunID, detail.RunID)
	require.Len(t, detail.FoldResults, 1)
	assert.Equal(t, 0.8, detail.FoldResults[0].TestAccuracy)

	rec = env.do(t, http.MethodGet, "/api/runs/"+run.RunID+"/folds/1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]db.Epoch](t, rec), 2)

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/runs/"+run.RunID+"/folds/2", "").Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/runs/"+run.RunID+"/folds/zero", "").Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/runs/missing", "").Code)
}

func TestRuns_NoDatabase(t *testing.T) {
	handler := NewServer(Config{}).ServeMux()
	for _, target := range []string{"/api/runs", "/api/runs/x", "/api/classifications"} {
		req := httptest.NewRequest(http.MethodGet, target, nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, target)
	}
}

func TestSettings(t *testing.T) {
	env := setupTestServer(t)

	rec := env.do(t, http.MethodGet, "/api/settings", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "{}\n", rec.Body.String())

	rec = env.do(t, http.MethodPut, "/api/settings/esp1_3", `[120, 340.5]`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	p, ok := env.settings.Get("esp1_3")
	require.True(t, ok)
	assert.Equal(t, config.Placement{120, 340.5}, p)

	data, err := env.fs.ReadFile("settings.json")
	require.NoError(t, err)
	assert.Contains(t, string(data), "esp1_3")

	settings := decode[map[string]config.Placement](t, env.do(t, http.MethodGet, "/api/settings", ""))
	assert.Equal(t, config.Placement{120, 340.5}, settings["esp1_3"])

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPut, "/api/settings/esp1_3", `{"x": 1}`).Code)
}

func TestLoggingMiddleware(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	t.Cleanup(func() { log.SetOutput(os.Stderr) })

	handler := LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status?x=1", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Contains(t, buf.String(), "/api/status?x=1")
	assert.Contains(t, buf.String(), "418")
}

func TestStatusCodeColor(t *testing.T) {
	assert.Equal(t, colorBoldGreen+"200"+colorReset, statusCodeColor(200))
	assert.Equal(t, colorYellow+"302"+colorReset, statusCodeColor(302))
	assert.Equal(t, colorBoldRed+"404"+colorReset, statusCodeColor(404))
	assert.Equal(t, colorBoldRed+"500"+colorReset, statusCodeColor(500))
	assert.Equal(t, "100", statusCodeColor(100))
}
