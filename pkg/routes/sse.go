package routes

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

const sseHeartbeat = 30 * time.Second

// ClientNotifier provides a way to notify SSE subscribers that the router
// handled another packet.
type ClientNotifier struct {
	subscribers map[chan struct{}]struct{}
	mu          sync.RWMutex
}

func NewClientNotifier() *ClientNotifier {
	return &ClientNotifier{
		subscribers: make(map[chan struct{}]struct{}),
	}
}

// Subscribe adds a new subscriber that will be notified on changes
func (cn *ClientNotifier) Subscribe() chan struct{} {
	cn.mu.Lock()
	defer cn.mu.Unlock()
	ch := make(chan struct{}, 1)
	cn.subscribers[ch] = struct{}{}
	return ch
}

func (cn *ClientNotifier) Unsubscribe(ch chan struct{}) {
	cn.mu.Lock()
	defer cn.mu.Unlock()
	delete(cn.subscribers, ch)
	close(ch)
}

// Notify wakes every subscriber. It never blocks.
func (cn *ClientNotifier) Notify() {
	cn.mu.RLock()
	defer cn.mu.RUnlock()
	for ch := range cn.subscribers {
		select {
		case ch <- struct{}{}:
		default:
			// Channel already has a pending notification, skip
		}
	}
}

// statsSSE streams the router counters as "stats" events: once on connect,
// then after every notification. Comments keep idle connections alive.
func (wr *WebRouter) statsSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	notifyCh := wr.ClientNotifier.Subscribe()
	defer wr.ClientNotifier.Unsubscribe(notifyCh)

	ticker := time.NewTicker(sseHeartbeat)
	defer ticker.Stop()

	sendStats := func() error {
		data, err := json.Marshal(wr.Router.Stats())
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "event: stats\ndata: %s\n\n", data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	if err := sendStats(); err != nil {
		slog.Debug("sse client went away", "error", err)
		return
	}

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-notifyCh:
			if err := sendStats(); err != nil {
				slog.Debug("sse client went away", "error", err)
				return
			}
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
