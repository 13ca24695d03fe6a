package monitor

import (
	"errors"
	"sync"
	"time"

	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/livelabel/pkg/classify"
	"github.com/cyclopcam/livelabel/pkg/nn"
	"github.com/cyclopcam/livelabel/server/configdb"
	"github.com/cyclopcam/logs"
)

// monitor runs our image classifier on the camera frames, and fans the results
// out to whoever is watching (websockets, the snapshot renderer, etc).

var ErrNoModel = errors.New("No model loaded")

// Result is the outcome of classifying one frame.
// SYNC-PREDICTION-RESULT
type Result struct {
	Frame       int64                 `json:"frame"` // Incremented for every frame that we classify
	Time        time.Time             `json:"time"`
	Predictions []classify.Prediction `json:"predictions"`
	Image       *cimg.Image           `json:"-"` // The frame that produced Predictions. Do not modify.
}

// Stats of the monitor
// SYNC-MONITOR-STATS
type Stats struct {
	ModelLoaded bool           `json:"modelLoaded"`
	Running     bool           `json:"running"`
	LastError   string         `json:"lastError,omitempty"`
	Loop        classify.Stats `json:"loop"`
}

type Monitor struct {
	Log logs.Log

	// Owned by the loop goroutine. See trackingSource.
	source *trackingSource

	lifeLock sync.Mutex // Serializes Start, Stop, SetModel, SetSettings and Close

	lock       sync.Mutex // Guards everything below
	classifier nn.ImageClassifier
	model      *nn.ClassifierModel
	settings   configdb.Settings
	handle     *classify.Handle
	scheduler  *classify.TickScheduler
	loopStats  classify.Stats // Accumulated stats of previous loops
	last       *Result
	lastErr    error
	nFrames    int64
	closed     bool

	watchersLock sync.RWMutex
	watchers     []chan *Result
}

// Create a new monitor.
// classifier may be nil, in which case Start() does nothing until SetModel() is called.
// The monitor takes ownership of the classifier, and closes it in Close().
func NewMonitor(logger logs.Log, classifier nn.ImageClassifier, source classify.FrameSource[*cimg.Image], settings configdb.Settings) *Monitor {
	m := &Monitor{
		Log:      logger,
		source:   &trackingSource{inner: source},
		settings: settings,
	}
	if classifier != nil {
		m.classifier = classifier
		m.model = nn.NewClassifierModel(classifier, classifyParams(settings))
	}
	return m
}

func classifyParams(s configdb.Settings) *nn.ClassifyParams {
	return &nn.ClassifyParams{
		TopK:          s.TopK,
		MinConfidence: s.MinConfidence,
	}
}

func tickInterval(s configdb.Settings) time.Duration {
	if s.TickRate <= 0 {
		return classify.DefaultTickInterval
	}
	return time.Duration(float64(time.Second) / s.TickRate)
}

// Close the monitor object.
// This stops the loop, closes the model, and closes all watcher channels.
func (m *Monitor) Close() {
	m.Log.Infof("Monitor shutting down")
	m.lifeLock.Lock()
	defer m.lifeLock.Unlock()
	m.stopLoop()

	m.lock.Lock()
	m.closed = true
	if m.classifier != nil {
		m.classifier.Close()
		m.classifier = nil
		m.model = nil
	}
	m.lock.Unlock()

	m.watchersLock.Lock()
	for _, ch := range m.watchers {
		close(ch)
	}
	m.watchers = nil
	m.watchersLock.Unlock()

	m.Log.Infof("Monitor is closed")
}

// Start the classification loop.
// If the loop is already running, this does nothing.
func (m *Monitor) Start() error {
	m.lifeLock.Lock()
	defer m.lifeLock.Unlock()
	return m.startLoop()
}

// Caller must hold lifeLock
func (m *Monitor) startLoop() error {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.closed {
		return errors.New("Monitor is closed")
	}
	if m.model == nil {
		return ErrNoModel
	}
	if m.handle != nil {
		return nil
	}
	m.scheduler = classify.NewTickScheduler(tickInterval(m.settings))
	m.handle = classify.Start[*cimg.Image](m.source, m.model, m.onPredictions,
		classify.WithScheduler(m.scheduler),
		classify.WithErrorHandler(m.onError),
		classify.WithLog(m.Log),
	)
	m.Log.Infof("Classification loop started (%.1f Hz)", float64(time.Second)/float64(m.scheduler.Interval()))
	return nil
}

// Stop the classification loop, and wait for any in-flight classification to finish.
// It is safe to call Stop when the loop is not running.
func (m *Monitor) Stop() {
	m.lifeLock.Lock()
	defer m.lifeLock.Unlock()
	m.stopLoop()
}

// Caller must hold lifeLock, but not lock.
// The loop callbacks take lock, so we must not hold it while cancelling.
func (m *Monitor) stopLoop() {
	m.lock.Lock()
	h := m.handle
	scheduler := m.scheduler
	m.handle = nil
	m.scheduler = nil
	m.lock.Unlock()
	if h == nil {
		return
	}

	// After Cancel returns, onPredictions and onError won't be called again
	h.Cancel()
	h.Wait()
	scheduler.Stop()

	m.lock.Lock()
	m.addLoopStats(h.Stats())
	m.lock.Unlock()
	m.Log.Infof("Classification loop stopped")
}

func (m *Monitor) addLoopStats(s classify.Stats) {
	m.loopStats = sumStats(m.loopStats, s)
}

func sumStats(a, b classify.Stats) classify.Stats {
	a.Iterations += b.Iterations
	a.FramesUnavailable += b.FramesUnavailable
	a.Classified += b.Classified
	a.ClassifyErrors += b.ClassifyErrors
	a.SourceErrors += b.SourceErrors
	a.Delivered += b.Delivered
	a.Discarded += b.Discarded
	a.AvgClassifyTime = b.AvgClassifyTime
	a.RecentClassifyTime = b.RecentClassifyTime
	return a
}

// Returns true if the classification loop is running
func (m *Monitor) IsRunning() bool {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.handle != nil
}

// Returns true if a model has been attached
func (m *Monitor) HasModel() bool {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.model != nil
}

// SetModel replaces the classifier. The previous classifier (if any) is closed.
// If the loop was running, it is restarted with the new model.
func (m *Monitor) SetModel(classifier nn.ImageClassifier) error {
	m.lifeLock.Lock()
	defer m.lifeLock.Unlock()
	if m.isClosed() {
		return errors.New("Monitor is closed")
	}
	wasRunning := m.IsRunning()
	m.stopLoop()

	m.lock.Lock()
	if m.classifier != nil {
		m.classifier.Close()
	}
	m.classifier = classifier
	m.model = nn.NewClassifierModel(classifier, classifyParams(m.settings))
	m.last = nil
	m.lock.Unlock()

	if wasRunning {
		return m.startLoop()
	}
	return nil
}

// ModelConfig returns the config of the attached model, or nil if there is no model
func (m *Monitor) ModelConfig() *nn.ModelConfig {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.classifier == nil {
		return nil
	}
	return m.classifier.Config()
}

func (m *Monitor) isClosed() bool {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.closed
}

func (m *Monitor) Settings() configdb.Settings {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.settings
}

// SetSettings applies new settings.
// TopK and MinConfidence take effect from the next frame. A change of TickRate restarts the loop.
func (m *Monitor) SetSettings(s configdb.Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	m.lifeLock.Lock()
	defer m.lifeLock.Unlock()

	m.lock.Lock()
	old := m.settings
	m.settings = s
	if m.model != nil {
		m.model.SetParams(classifyParams(s))
	}
	mustRestart := m.handle != nil && tickInterval(old) != tickInterval(s)
	m.lock.Unlock()

	if mustRestart {
		m.stopLoop()
		return m.startLoop()
	}
	return nil
}

// LastResult returns the most recent classification, or nil if there is none yet
func (m *Monitor) LastResult() *Result {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.last
}

// LastPredictions returns the most recent predictions, most confident first
func (m *Monitor) LastPredictions() []classify.Prediction {
	if r := m.LastResult(); r != nil {
		return r.Predictions
	}
	return nil
}

// LastImage returns the frame that produced LastPredictions
func (m *Monitor) LastImage() *cimg.Image {
	if r := m.LastResult(); r != nil {
		return r.Image
	}
	return nil
}

func (m *Monitor) Stats() Stats {
	m.lock.Lock()
	defer m.lock.Unlock()
	s := Stats{
		ModelLoaded: m.model != nil,
		Running:     m.handle != nil,
		Loop:        m.loopStats,
	}
	if m.handle != nil {
		s.Loop = sumStats(s.Loop, m.handle.Stats())
	}
	if m.lastErr != nil {
		s.LastError = m.lastErr.Error()
	}
	return s
}

func (m *Monitor) onPredictions(predictions []classify.Prediction) {
	m.lock.Lock()
	m.nFrames++
	r := &Result{
		Frame:       m.nFrames,
		Time:        time.Now(),
		Predictions: predictions,
		Image:       m.source.current,
	}
	m.last = r
	m.lastErr = nil
	m.lock.Unlock()

	m.sendToWatchers(r)
}

// The loop logs errors itself (throttled), so we only need to remember the latest one
func (m *Monitor) onError(err error) {
	m.lock.Lock()
	m.lastErr = err
	m.lock.Unlock()
}

// trackingSource remembers the frame that it most recently handed out.
// The loop has at most one classification in flight, and delivers its result before
// asking for the next frame, so 'current' is always the frame behind the predictions
// that are being delivered.
type trackingSource struct {
	inner   classify.FrameSource[*cimg.Image]
	current *cimg.Image
}

func (t *trackingSource) NextFrame() (*cimg.Image, error) {
	img, err := t.inner.NextFrame()
	if err == nil {
		t.current = img
	}
	return img, err
}
