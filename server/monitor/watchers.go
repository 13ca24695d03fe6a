package monitor

import "github.com/cyclopcam/livelabel/pkg/gen"

// SYNC-WATCHER-CHANNEL-SIZE
const WatcherChannelSize = 100

// Register to receive classification results.
// The channel is closed when the monitor is closed.
func (m *Monitor) AddWatcher() chan *Result {
	m.watchersLock.Lock()
	defer m.watchersLock.Unlock()
	ch := make(chan *Result, WatcherChannelSize)
	if m.isClosed() {
		close(ch)
		return ch
	}
	m.watchers = append(m.watchers, ch)
	return ch
}

// Unregister from classification results
func (m *Monitor) RemoveWatcher(ch chan *Result) {
	m.watchersLock.Lock()
	defer m.watchersLock.Unlock()
	for i, wch := range m.watchers {
		if wch == ch {
			m.watchers = gen.DeleteFromSliceUnordered(m.watchers, i)
			return
		}
	}
	if !m.isClosed() {
		m.Log.Warnf("Monitor.RemoveWatcher failed to find channel")
	}
}

func (m *Monitor) sendToWatchers(r *Result) {
	m.watchersLock.RLock()
	// We'd rather drop results than stall the classification loop behind a slow watcher
	// (eg a websocket on a bad network). Other watchers keep running.
	for _, ch := range m.watchers {
		// SYNC-WATCHER-CHANNEL-SIZE
		if len(ch) >= cap(ch)*9/10 {
			m.Log.Warnf("Monitor watcher is falling behind. I am going to drop results.")
		} else {
			ch <- r
		}
	}
	m.watchersLock.RUnlock()
}
