package server

import (
	"embed"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cyclopcam/staticfiles"
	"github.com/cyclopcam/www"
	"github.com/go-chi/httprate"
	"github.com/julienschmidt/httprouter"
)

//go:embed www
var staticWWW embed.FS

func (s *Server) setupHttpRoutes() error {
	logEveryRequest := s.flags&ServerFlagLogRequests != 0
	router := httprouter.New()

	handle := func(method, route string, handle httprouter.Handle) {
		www.Handle(s.Log, router, method, route, func(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
			if logEveryRequest {
				s.Log.Infof("HTTP %v %v", method, r.URL.Path)
			}
			handle(w, r, params)
		})
	}

	// We create a unique rate limiter for each endpoint, so we don't need httprate.KeyByEndpoint
	ratelimited := func(method, route string, handle httprouter.Handle, requestLimit int, windowLength time.Duration) {
		limited := httprate.Limit(requestLimit, windowLength, httprate.WithKeyFuncs(httprate.KeyByIP))
		www.Handle(s.Log, router, method, route, func(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
			if logEveryRequest {
				s.Log.Infof("HTTP %v %v", method, r.URL.Path)
			}
			limited(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				handle(w, r, params)
			})).ServeHTTP(w, r)
		})
	}

	handle("GET", "/api/ping", s.httpPing)
	handle("GET", "/api/status", s.httpStatus)
	handle("GET", "/api/predictions", s.httpPredictions)
	handle("GET", "/api/stats", s.httpStats)
	handle("GET", "/api/settings", s.httpGetSettings)
	ratelimited("POST", "/api/settings", s.httpSetSettings, 10, time.Second)
	ratelimited("GET", "/api/snapshot.jpg", s.httpSnapshot, 30, time.Second)
	handle("GET", "/api/ws/predictions", s.httpStreamPredictions)

	handle("GET", "/api/record/state", s.httpRecordState)
	ratelimited("POST", "/api/record/toggle", s.httpRecordToggle, 5, time.Second)
	handle("GET", "/api/recordings", s.httpListRecordings)
	handle("GET", "/api/recordings/:id", s.httpGetRecording)
	handle("GET", "/api/recordings/:id/frame/:n", s.httpGetRecordingFrame)

	isImmutable := true
	var fsys fs.FS
	fsysRoot := "www"
	fsys = staticWWW
	if s.flags&ServerFlagHotReloadWWW != 0 {
		absRoot, err := filepath.Abs("server/www")
		if err != nil {
			return errors.New("Failed to resolve static file directory for hot reload")
		}
		s.Log.Infof("Serving static files from %v, with hot reload", absRoot)
		fsys = os.DirFS(absRoot)
		fsysRoot = ""
		isImmutable = false
	}

	static, err := staticfiles.NewCachedStaticFileServer(fsys, fsysRoot, []string{"/api/"}, s.Log, isImmutable, nil)
	if err != nil {
		s.Log.Warnf("Error in static files: %v. The web UI will not be available", err)
	} else {
		router.NotFound = static
	}

	s.httpRouter = router
	return nil
}
