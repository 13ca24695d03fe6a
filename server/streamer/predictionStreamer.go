package streamer

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cyclopcam/livelabel/pkg/classify"
	"github.com/cyclopcam/livelabel/server/monitor"
	"github.com/cyclopcam/logs"
	"github.com/gorilla/websocket"
)

type webSocketMsg int

const (
	webSocketMsgPause  webSocketMsg = iota // pause stream (eg browser tab deactivated)
	webSocketMsgResume                     // resume stream (eg browser tab reactivated)
)

// Sent by client over websocket
// SYNC-WEBSOCKET-JSON-MSG
type webSocketJSON struct {
	Command string `json:"command"`
}

// Every message that we send is a TEXT frame containing this
// SYNC-PREDICTION-WEBSOCKET-MESSAGE
type PredictionMessage struct {
	Type        string                `json:"type"` // Only type of message is "predictions"
	Frame       int64                 `json:"frame"`
	Time        int64                 `json:"time"` // Unix milliseconds
	Predictions []classify.Prediction `json:"predictions"`
}

// Number of messages that we will buffer on the send side, before dropping messages to the client.
const WebSocketSendBufferSize = 20

var nextStreamerID int64

type PredictionStreamer struct {
	log           logs.Log
	closed        atomic.Bool
	paused        atomic.Bool
	fromWebSocket chan webSocketMsg
	done          chan struct{} // Closed when the main loop exits, so that the reader never blocks on fromWebSocket
	sendQueue     chan *PredictionMessage
	lastDropMsg   time.Time
	nDropped      int64
	nSent         int64
}

// RunPredictionStreamer pushes every result from watcher to the websocket, until either the
// client disconnects, or watcher is closed. The caller owns watcher, and must remove it from
// the monitor after this function returns.
func RunPredictionStreamer(logger logs.Log, conn *websocket.Conn, watcher chan *monitor.Result) {
	newPredictionStreamer(logger).run(conn, watcher)
}

func newPredictionStreamer(logger logs.Log) *PredictionStreamer {
	streamerID := atomic.AddInt64(&nextStreamerID, 1)
	return &PredictionStreamer{
		log:           logs.NewPrefixLogger(logger, fmt.Sprintf("WebSocket %v", streamerID)),
		fromWebSocket: make(chan webSocketMsg, 1),
		done:          make(chan struct{}),
		sendQueue:     make(chan *PredictionMessage, WebSocketSendBufferSize),
	}
}

func (s *PredictionStreamer) run(conn *websocket.Conn, watcher chan *monitor.Result) {
	readerDone := make(chan bool)
	go func() {
		s.webSocketReader(conn)
		close(readerDone)
	}()
	writerDone := make(chan bool)
	go func() {
		s.webSocketWriter(conn)
		close(writerDone)
	}()

	for !s.closed.Load() {
		select {
		case result, ok := <-watcher:
			if !ok {
				s.log.Infof("Monitor closed")
				s.closed.Store(true)
				break
			}
			if !s.paused.Load() {
				s.onResult(result)
			}
		case wsMsg, ok := <-s.fromWebSocket:
			if !ok {
				s.closed.Store(true)
				break
			}
			switch wsMsg {
			case webSocketMsgPause:
				s.paused.Store(true)
			case webSocketMsgResume:
				s.paused.Store(false)
			}
		}
	}
	close(s.done)
	close(s.sendQueue)
	<-writerDone
	conn.Close()
	<-readerDone
	s.log.Infof("Closed. Sent %v/%v messages", s.nSent, s.nSent+s.nDropped)
}

func (s *PredictionStreamer) onResult(r *monitor.Result) {
	// Never block the monitor behind a slow client
	if len(s.sendQueue) >= WebSocketSendBufferSize {
		s.nDropped++
		if now := time.Now(); now.Sub(s.lastDropMsg) > 5*time.Second {
			s.log.Infof("Dropped %v/%v messages", s.nDropped, s.nDropped+s.nSent)
			s.lastDropMsg = now
		}
		return
	}
	s.nSent++
	s.sendQueue <- &PredictionMessage{
		Type:        "predictions",
		Frame:       r.Frame,
		Time:        r.Time.UnixMilli(),
		Predictions: r.Predictions,
	}
}

// Read from the websocket and post to our own channel, so that we can
// run a single loop that handles reads from websocket and reads from the monitor.
func (s *PredictionStreamer) webSocketReader(conn *websocket.Conn) {
	defer close(s.fromWebSocket)
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		msg := webSocketJSON{}
		if err := json.Unmarshal(data, &msg); err != nil {
			s.log.Infof("webSocketReader failed to decode JSON: %v", err)
			continue
		}
		// SYNC-WEBSOCKET-COMMANDS
		switch msg.Command {
		case "pause":
			if !s.post(webSocketMsgPause) {
				return
			}
		case "resume":
			if !s.post(webSocketMsgResume) {
				return
			}
		default:
			s.log.Infof("Unknown websocket message from client: '%v'", msg.Command)
		}
	}
}

// Hand a client command to the main loop. Returns false if the main loop has exited.
func (s *PredictionStreamer) post(msg webSocketMsg) bool {
	select {
	case s.fromWebSocket <- msg:
		return true
	case <-s.done:
		return false
	}
}

// Write on a separate goroutine, so that a slow client doesn't block the main loop
func (s *PredictionStreamer) webSocketWriter(conn *websocket.Conn) {
	for msg := range s.sendQueue {
		if s.paused.Load() {
			continue
		}
		b, err := json.Marshal(msg)
		if err != nil {
			s.log.Errorf("Failed to encode prediction message: %v", err)
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
			s.log.Infof("webSocketWriter error: %v", err)
			s.closed.Store(true)
			// Keep draining, so that the main loop never blocks on a full queue
		}
	}
}
