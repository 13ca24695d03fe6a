package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/livelabel/pkg/classify"
	"github.com/cyclopcam/livelabel/pkg/nn"
	"github.com/cyclopcam/livelabel/server/configdb"
	"github.com/cyclopcam/livelabel/server/monitor"
	"github.com/cyclopcam/livelabel/server/recorder"
	"github.com/cyclopcam/logs"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

// Frames is the camera, as seen by the server
type Frames interface {
	classify.FrameSource[*cimg.Image]
	LastImage() *cimg.Image
}

const (
	ServerFlagLogRequests  = 1 // Log every HTTP request
	ServerFlagHotReloadWWW = 2 // Serve the web UI from server/www on disk instead of the embedded copy
)

type Server struct {
	Log              logs.Log
	ShutdownStarted  chan bool
	ShutdownComplete chan error

	configDB   *configdb.ConfigDB
	frames     Frames
	monitor    *monitor.Monitor
	recorder   *recorder.Recorder
	signalIn   chan os.Signal
	httpServer *http.Server
	httpRouter *httprouter.Router
	wsUpgrader websocket.Upgrader
	flags      int

	modelLock sync.Mutex
	modelErr  error // Set if the model failed to load

	shutdownLock sync.Mutex
	isShutdown   bool
}

// Create a new server.
// The classification loop starts once a model is attached with AttachModel.
// Recordings are stored in subdirectories of recordingPath.
func NewServer(logger logs.Log, configDB *configdb.ConfigDB, frames Frames, recordingPath string, flags int) (*Server, error) {
	settings, err := configDB.GetSettings()
	if err != nil {
		return nil, err
	}
	rec, err := recorder.NewRecorder(logger, configDB, frames, recordingPath)
	if err != nil {
		return nil, err
	}
	s := &Server{
		Log:              logger,
		ShutdownStarted:  make(chan bool),
		ShutdownComplete: make(chan error, 1),
		configDB:         configDB,
		frames:           frames,
		monitor:          monitor.NewMonitor(logger, nil, frames, settings),
		recorder:         rec,
		flags:            flags,
	}
	if err := s.setupHttpRoutes(); err != nil {
		return nil, err
	}
	return s, nil
}

// AttachModel hands the classifier to the monitor, and starts classifying frames.
// The server takes ownership of the classifier.
func (s *Server) AttachModel(classifier nn.ImageClassifier) error {
	if err := s.monitor.SetModel(classifier); err != nil {
		classifier.Close()
		return err
	}
	s.modelLock.Lock()
	s.modelErr = nil
	s.modelLock.Unlock()
	cfg := classifier.Config()
	s.Log.Infof("Model attached (%v, %v classes)", cfg.Architecture, len(cfg.Classes))
	return s.monitor.Start()
}

// ModelFailed records that the model could not be loaded, so that clients can be told why
// they're not seeing any predictions.
func (s *Server) ModelFailed(err error) {
	s.Log.Errorf("Failed to load model: %v", err)
	s.modelLock.Lock()
	s.modelErr = err
	s.modelLock.Unlock()
}

func (s *Server) modelError() error {
	s.modelLock.Lock()
	defer s.modelLock.Unlock()
	return s.modelErr
}

// Monitor returns the monitor that runs the classification loop
func (s *Server) Monitor() *monitor.Monitor {
	return s.monitor
}

func (s *Server) Handler() http.Handler {
	return s.httpRouter
}

// port example: ":8080"
func (s *Server) ListenHTTP(port string) error {
	s.Log.Infof("Listening on %v", port)
	s.httpServer = &http.Server{
		Addr:    port,
		Handler: s.httpRouter,
	}
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) ListenForKillSignals() {
	s.Log.Infof("ListenForKillSignals starting")
	s.signalIn = make(chan os.Signal, 1)
	signal.Notify(s.signalIn, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig, ok := <-s.signalIn
		if ok {
			s.Log.Infof("Received OS signal '%v'. ListenForKillSignals will exit after shutdown", sig.String())
			s.Shutdown()
		} else {
			// This path gets hit when Shutdown() is called by something other than ourselves, and Shutdown() closes the signalIn channel.
			s.Log.Infof("signalIn closed. ListenForKillSignals will exit now")
		}
	}()
}

// Shutdown stops the HTTP server, the recorder, and the classification loop.
// It is safe to call Shutdown more than once.
func (s *Server) Shutdown() {
	s.shutdownLock.Lock()
	defer s.shutdownLock.Unlock()
	if s.isShutdown {
		return
	}
	s.isShutdown = true
	s.Log.Infof("Shutdown")
	close(s.ShutdownStarted)
	if s.signalIn != nil {
		signal.Stop(s.signalIn)
		close(s.signalIn)
	}

	var err error
	if s.httpServer != nil {
		s.Log.Infof("Closing HTTP server")
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err = s.httpServer.Shutdown(ctx)
		cancel()
	}

	s.recorder.Close()
	// Closing the monitor closes all watchers, which ends the websocket streams
	s.monitor.Close()

	if err != nil {
		s.Log.Warnf("Shutdown complete, with error: %v", err)
	} else {
		s.Log.Infof("Shutdown complete")
	}
	s.ShutdownComplete <- err
}
