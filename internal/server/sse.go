package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/jonathan/cascade/internal/pipeline"
)

// eventStream pushes pipeline progress to a client over Server-Sent
// Events. Stage callbacks fire from concurrent goroutines, so every
// write is serialized under the mutex. The SSE event name is the
// progress category, letting clients subscribe per lifecycle phase.
type eventStream struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
}

func newEventStream(w http.ResponseWriter) (*eventStream, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	return &eventStream{w: w, flusher: flusher}, nil
}

// Progress forwards one stage lifecycle event.
func (s *eventStream) Progress(ev pipeline.ProgressEvent) {
	name := ev.Category
	if name == "" {
		name = pipeline.CategoryPipeline
	}
	s.send(name, ev) //nolint:errcheck
}

// Fail reports a run-level failure and ends the stream.
func (s *eventStream) Fail(message string) {
	s.send("error", map[string]string{"error": message}) //nolint:errcheck
}

// Done reports the run's terminal status and ends the stream.
func (s *eventStream) Done(recordingID string, status string) {
	s.send("complete", map[string]string{ //nolint:errcheck
		"recording_id": recordingID,
		"status":       status,
	})
}

func (s *eventStream) send(event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
