package server

import (
	"errors"
	"net/http"
	"os"
	"strconv"

	"github.com/cyclopcam/livelabel/server/configdb"
	"github.com/cyclopcam/livelabel/server/recorder"
	"github.com/cyclopcam/www"
	"github.com/julienschmidt/httprouter"
)

func (s *Server) httpRecordState(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	www.SendJSON(w, s.recorder.State())
}

// Start recording if we're idle, or stop if we're recording
func (s *Server) httpRecordToggle(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	state, err := s.recorder.Toggle()
	www.Check(err)
	www.SendJSON(w, state)
}

func (s *Server) httpListRecordings(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	recs, err := s.configDB.ListRecordings()
	www.Check(err)
	www.SendJSON(w, recs)
}

func (s *Server) getRecordingOrPanic(idStr string) *configdb.Recording {
	rec, err := s.configDB.GetRecording(www.ParseID(idStr))
	if errors.Is(err, configdb.ErrRecordingNotFound) {
		www.PanicNotFound()
	}
	www.Check(err)
	return rec
}

func (s *Server) httpGetRecording(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	www.SendJSON(w, s.getRecordingOrPanic(params.ByName("id")))
}

func (s *Server) httpGetRecordingFrame(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	rec := s.getRecordingOrPanic(params.ByName("id"))
	n, err := strconv.Atoi(params.ByName("n"))
	if err != nil || n < 0 {
		www.PanicBadRequestf("Invalid frame number '%v'", params.ByName("n"))
	}
	b, err := os.ReadFile(recorder.FramePath(rec, n))
	if os.IsNotExist(err) {
		www.PanicNotFound()
	}
	www.Check(err)
	www.CacheImmutable(w)
	w.Header().Set("Content-Type", "image/jpeg")
	w.Write(b)
}
