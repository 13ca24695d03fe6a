package camera

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/logs"
	"gocv.io/x/gocv"
)

// Camera is a local video device (or a video file/stream that OpenCV can open),
// which is read continuously on a background goroutine.
// The most recent frame is available via the embedded LatestFrame.
type Camera struct {
	*LatestFrame
	Log    logs.Log
	Device string

	capture  *gocv.VideoCapture
	stop     chan bool
	stopped  chan bool
	lastErr  error
	errLock  sync.Mutex
	closeMux sync.Mutex
}

// Give up on the device after this many consecutive failed reads
const maxConsecutiveReadFailures = 100

// Open a camera. device is either a device index ("0") or a filename/URL.
func Open(log logs.Log, device string) (*Camera, error) {
	var capture *gocv.VideoCapture
	var err error
	if id, perr := strconv.Atoi(device); perr == nil {
		capture, err = gocv.OpenVideoCapture(id)
	} else {
		capture, err = gocv.OpenVideoCapture(device)
	}
	if err != nil {
		return nil, fmt.Errorf("Failed to open camera '%v': %w", device, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, fmt.Errorf("Camera '%v' could not be opened", device)
	}
	c := &Camera{
		LatestFrame: NewLatestFrame(),
		Log:         log,
		Device:      device,
		capture:     capture,
		stop:        make(chan bool),
		stopped:     make(chan bool),
	}
	go c.readLoop()
	return c, nil
}

// Close stops the reader goroutine and releases the device.
// It is safe to call Close more than once.
func (c *Camera) Close() {
	c.closeMux.Lock()
	defer c.closeMux.Unlock()
	if c.stop == nil {
		return
	}
	close(c.stop)
	<-c.stopped
	c.stop = nil
	c.capture.Close()
}

// Err returns the error that caused the reader to give up, or nil if it's still running
func (c *Camera) Err() error {
	c.errLock.Lock()
	defer c.errLock.Unlock()
	return c.lastErr
}

func (c *Camera) readLoop() {
	defer close(c.stopped)

	mat := gocv.NewMat()
	defer mat.Close()
	rgb := gocv.NewMat()
	defer rgb.Close()

	failures := 0
	nFrames := 0
	for {
		select {
		case <-c.stop:
			return
		default:
		}

		if ok := c.capture.Read(&mat); !ok || mat.Empty() {
			failures++
			if failures >= maxConsecutiveReadFailures {
				c.Log.Errorf("Camera '%v' has stopped producing frames", c.Device)
				c.errLock.Lock()
				c.lastErr = errors.New("Camera stopped producing frames")
				c.errLock.Unlock()
				return
			}
			time.Sleep(10 * time.Millisecond)
			continue
		}
		failures = 0

		img, err := matToImage(mat, &rgb)
		if err != nil {
			c.Log.Warnf("Camera '%v': %v", c.Device, err)
			continue
		}
		if nFrames == 0 {
			c.Log.Infof("Camera '%v' first frame %v x %v", c.Device, img.Width, img.Height)
		}
		nFrames++
		c.Publish(img)
	}
}

// Convert a BGR OpenCV frame into a freshly allocated RGB image.
// rgb is scratch space that is reused between frames.
func matToImage(bgr gocv.Mat, rgb *gocv.Mat) (*cimg.Image, error) {
	if bgr.Channels() != 3 {
		return nil, fmt.Errorf("Expected 3 channel frame, but got %v", bgr.Channels())
	}
	if err := gocv.CvtColor(bgr, rgb, gocv.ColorBGRToRGB); err != nil {
		return nil, err
	}
	pixels, err := rgb.DataPtrUint8()
	if err != nil {
		return nil, err
	}
	img := cimg.NewImage(rgb.Cols(), rgb.Rows(), cimg.PixelFormatRGB)
	if len(pixels) < len(img.Pixels) {
		return nil, fmt.Errorf("Frame buffer is %v bytes, but expected %v", len(pixels), len(img.Pixels))
	}
	copy(img.Pixels, pixels)
	return img, nil
}
