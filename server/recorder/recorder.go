// Package recorder saves camera frames to disk while recording is toggled on.
// Each recording is a directory of sequentially numbered JPEG files, indexed in the config DB.
package recorder

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/livelabel/server/configdb"
	"github.com/cyclopcam/logs"
	"github.com/google/uuid"
)

// How often we check for a new camera frame while recording
const DefaultFrameInterval = 100 * time.Millisecond

const jpegQuality = 85

var ErrClosed = errors.New("Recorder is closed")

// ImageProvider returns the most recent camera frame, or nil if there is none
type ImageProvider interface {
	LastImage() *cimg.Image
}

// State of the recorder
// SYNC-RECORDER-STATE
type State struct {
	IsRecording bool      `json:"isRecording"`
	RecordingID int64     `json:"recordingID,omitempty"` // Current recording, or the most recently finished one
	Frames      int       `json:"frames"`                // Frames written so far
	StartedAt   time.Time `json:"startedAt,omitempty"`
	Error       string    `json:"error,omitempty"` // Why the last recording stopped by itself
}

type Recorder struct {
	Log           logs.Log
	FrameInterval time.Duration

	db     *configdb.ConfigDB
	source ImageProvider
	root   string

	lock    sync.Mutex
	current *session
	lastID  int64
	lastErr error // Set when a recording dies because a frame could not be written
	closed  bool
}

// A single recording in progress
type session struct {
	rec      *configdb.Recording
	stop     chan bool
	stopped  chan bool
	lock     sync.Mutex
	frames   int
	width    int
	height   int
	writeErr error
}

// Create a new recorder, which writes recordings into subdirectories of root
func NewRecorder(log logs.Log, db *configdb.ConfigDB, source ImageProvider, root string) (*Recorder, error) {
	if err := os.MkdirAll(root, 0770); err != nil {
		return nil, fmt.Errorf("Failed to create recording directory '%v': %w", root, err)
	}
	r := &Recorder{
		Log:           log,
		FrameInterval: DefaultFrameInterval,
		db:            db,
		source:        source,
		root:          root,
	}
	r.finishOrphans()
	return r, nil
}

// If we crashed during a recording, then mark it as finished, with whatever frames made it to disk
func (r *Recorder) finishOrphans() {
	orphans, err := r.db.UnfinishedRecordings()
	if err != nil {
		r.Log.Warnf("Failed to read unfinished recordings: %v", err)
		return
	}
	for _, rec := range orphans {
		frames := CountFrames(rec.Path)
		r.Log.Infof("Finishing orphaned recording %v (%v frames)", rec.ID, frames)
		if err := r.db.FinishRecording(rec.ID, frames, rec.Width, rec.Height); err != nil {
			r.Log.Warnf("Failed to finish recording %v: %v", rec.ID, err)
		}
	}
}

// Toggle starts recording if we're idle, or stops recording if we're recording.
// Returns the new state.
func (r *Recorder) Toggle() (State, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	if r.closed {
		return State{}, ErrClosed
	}
	var err error
	if r.current == nil {
		err = r.startLocked()
	} else {
		err = r.stopLocked()
	}
	return r.stateLocked(), err
}

func (r *Recorder) State() State {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.stateLocked()
}

func (r *Recorder) stateLocked() State {
	if r.current == nil {
		st := State{RecordingID: r.lastID}
		if r.lastErr != nil {
			st.Error = r.lastErr.Error()
		}
		return st
	}
	s := r.current
	s.lock.Lock()
	defer s.lock.Unlock()
	return State{
		IsRecording: true,
		RecordingID: s.rec.ID,
		Frames:      s.frames,
		StartedAt:   s.rec.StartAt.Get(),
	}
}

// Close stops any recording in progress
func (r *Recorder) Close() {
	r.lock.Lock()
	defer r.lock.Unlock()
	if r.current != nil {
		if err := r.stopLocked(); err != nil {
			r.Log.Errorf("Failed to finish recording: %v", err)
		}
	}
	r.closed = true
}

func (r *Recorder) startLocked() error {
	id := uuid.NewString()
	dir := filepath.Join(r.root, id)
	if err := os.MkdirAll(dir, 0770); err != nil {
		return err
	}
	rec := &configdb.Recording{
		UUID: id,
		Path: dir,
	}
	if err := r.db.CreateRecording(rec); err != nil {
		os.RemoveAll(dir)
		return fmt.Errorf("Failed to create recording: %w", err)
	}
	s := &session{
		rec:     rec,
		stop:    make(chan bool),
		stopped: make(chan bool),
	}
	r.current = s
	r.lastErr = nil
	r.Log.Infof("Recording %v started in %v", rec.ID, dir)
	go func() {
		if err := s.run(r.source, r.FrameInterval); err != nil {
			r.sessionFailed(s, err)
		}
	}()
	return nil
}

// Finish a recording that stopped because of a write error.
// If the session has already been stopped by Toggle or Close, then there's nothing to do.
func (r *Recorder) sessionFailed(s *session, err error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	if r.current != s {
		return
	}
	r.current = nil
	r.lastID = s.rec.ID
	r.lastErr = err
	r.Log.Errorf("Recording %v aborted after %v frames: %v", s.rec.ID, s.frames, err)
	if err := r.db.FinishRecording(s.rec.ID, s.frames, s.width, s.height); err != nil {
		r.Log.Warnf("Failed to finish recording %v: %v", s.rec.ID, err)
	}
}

func (r *Recorder) stopLocked() error {
	s := r.current
	r.current = nil
	close(s.stop)
	<-s.stopped
	r.lastID = s.rec.ID
	r.Log.Infof("Recording %v stopped after %v frames", s.rec.ID, s.frames)
	if err := r.db.FinishRecording(s.rec.ID, s.frames, s.width, s.height); err != nil {
		return err
	}
	return s.writeErr
}

// run writes frames until stopped, or until a frame can't be written.
// stopped is closed before run returns.
func (s *session) run(source ImageProvider, interval time.Duration) error {
	defer close(s.stopped)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last *cimg.Image
	for {
		// Grab a frame immediately, so that a short recording isn't empty
		if img := source.LastImage(); img != nil && img != last {
			last = img
			if err := s.writeFrame(img); err != nil {
				s.lock.Lock()
				s.writeErr = err
				s.lock.Unlock()
				return err
			}
		}
		select {
		case <-s.stop:
			return nil
		case <-ticker.C:
		}
	}
}

func (s *session) writeFrame(img *cimg.Image) error {
	s.lock.Lock()
	n := s.frames
	s.lock.Unlock()

	if err := img.WriteJPEG(FramePath(s.rec, n), cimg.MakeCompressParams(cimg.Sampling420, jpegQuality, 0), 0660); err != nil {
		return err
	}

	s.lock.Lock()
	s.frames++
	s.width = img.Width
	s.height = img.Height
	s.lock.Unlock()
	return nil
}

// FramePath returns the filename of frame n of the recording
func FramePath(rec *configdb.Recording, n int) string {
	return filepath.Join(rec.Path, fmt.Sprintf("%06d.jpg", n))
}

// CountFrames returns the number of consecutive frames that exist in dir
func CountFrames(dir string) int {
	n := 0
	for {
		if _, err := os.Stat(FramePath(&configdb.Recording{Path: dir}, n)); err != nil {
			return n
		}
		n++
	}
}
