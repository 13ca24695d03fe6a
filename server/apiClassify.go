package server

import (
	"net/http"
	"time"

	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/livelabel/pkg/classify"
	"github.com/cyclopcam/livelabel/server/camera"
	"github.com/cyclopcam/livelabel/server/monitor"
	"github.com/cyclopcam/livelabel/server/overlay"
	"github.com/cyclopcam/livelabel/server/streamer"
	"github.com/cyclopcam/www"
	"github.com/julienschmidt/httprouter"
)

func (s *Server) httpPing(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	type pingJSON struct {
		Time int64 `json:"time"`
	}
	www.SendJSON(w, &pingJSON{
		Time: time.Now().Unix(),
	})
}

// SYNC-STATUS-JSON
type statusJSON struct {
	ModelLoaded  bool   `json:"modelLoaded"`
	ModelError   string `json:"modelError,omitempty"`
	Architecture string `json:"architecture,omitempty"`
	NumClasses   int    `json:"numClasses,omitempty"`
	Running      bool   `json:"running"`
	IsRecording  bool   `json:"isRecording"`
	RecordError  string `json:"recordError,omitempty"` // Why the last recording stopped by itself
}

// Until the model has loaded, clients should show a "loading model" message
func (s *Server) httpStatus(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	rec := s.recorder.State()
	st := statusJSON{
		ModelLoaded: s.monitor.HasModel(),
		Running:     s.monitor.IsRunning(),
		IsRecording: rec.IsRecording,
		RecordError: rec.Error,
	}
	if cfg := s.monitor.ModelConfig(); cfg != nil {
		st.Architecture = cfg.Architecture
		st.NumClasses = len(cfg.Classes)
	}
	if err := s.modelError(); err != nil {
		st.ModelError = err.Error()
	}
	www.SendJSON(w, &st)
}

// SYNC-PREDICTIONS-JSON
type predictionsJSON struct {
	Frame       int64                 `json:"frame"`
	Time        int64                 `json:"time"` // Unix milliseconds
	Predictions []classify.Prediction `json:"predictions"`
}

func (s *Server) httpPredictions(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	www.CacheNever(w)
	res := predictionsJSON{
		Predictions: []classify.Prediction{},
	}
	if last := s.monitor.LastResult(); last != nil {
		res.Frame = last.Frame
		res.Time = last.Time.UnixMilli()
		res.Predictions = last.Predictions
	}
	www.SendJSON(w, &res)
}

func (s *Server) httpStats(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	type statsJSON struct {
		Monitor monitor.Stats      `json:"monitor"`
		Camera  *camera.FrameStats `json:"camera,omitempty"`
	}
	st := statsJSON{
		Monitor: s.monitor.Stats(),
	}
	if fs, ok := s.frames.(interface{ Stats() camera.FrameStats }); ok {
		cs := fs.Stats()
		st.Camera = &cs
	}
	www.SendJSON(w, &st)
}

func (s *Server) httpGetSettings(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	www.SendJSON(w, s.monitor.Settings())
}

func (s *Server) httpSetSettings(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	settings := s.monitor.Settings()
	www.ReadJSON(w, r, &settings, 64*1024)
	www.CheckClient(settings.Validate())
	www.Check(s.configDB.SetSettings(settings))
	www.Check(s.monitor.SetSettings(settings))
	s.Log.Infof("Settings changed: topK %v, minConfidence %v, tickRate %v", settings.TopK, settings.MinConfidence, settings.TickRate)
	www.SendJSON(w, settings)
}

// Returns the frame to show in a snapshot, and the predictions that belong to it.
// We prefer the frame that produced the latest predictions, so that the labels match the picture.
// Before the first classification, we return the raw camera frame with no predictions.
func (s *Server) snapshotFrame() (*cimg.Image, []classify.Prediction) {
	if res := s.monitor.LastResult(); res != nil && res.Image != nil {
		return res.Image, res.Predictions
	}
	return s.frames.LastImage(), nil
}

// Fetch the latest camera frame as a JPEG, with the predictions drawn on top.
// Add ?raw=1 to get the frame without the overlay.
// Example: curl -o snap.jpg localhost:8080/api/snapshot.jpg
func (s *Server) httpSnapshot(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	www.CacheNever(w)

	img, predictions := s.snapshotFrame()
	if img == nil {
		www.PanicBadRequestf("No image available yet")
	}
	if www.QueryValue(r, "raw") == "1" {
		predictions = nil
	}

	jpg, err := overlay.RenderJPEG(img, predictions)
	www.Check(err)
	w.Header().Set("Content-Type", "image/jpeg")
	w.Write(jpg)
}

// Push every new set of predictions over a websocket
func (s *Server) httpStreamPredictions(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	conn, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Log.Errorf("httpStreamPredictions websocket upgrade failed: %v", err)
		return
	}
	watcher := s.monitor.AddWatcher()
	defer s.monitor.RemoveWatcher(watcher)
	streamer.RunPredictionStreamer(s.Log, conn, watcher)
}
