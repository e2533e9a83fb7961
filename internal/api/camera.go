package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/banshee-data/speedgate/internal/traffic"
)

// postCameraResult accepts a result from an external camera and hands it to
// the controller. Plate validation happens there.
func (s *Server) postCameraResult(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if s.Results == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "camera results are not accepted")
		return
	}

	var res traffic.CameraResult
	if err := decodeJSONBody(w, r, &res); err != nil {
		badRequest(w, "%v", err)
		return
	}

	delivered := s.Results.Publish(res)
	status := http.StatusAccepted
	if delivered == 0 {
		// the controller's buffer was full; the drop is counted on the topic
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]int{"delivered": delivered})
}

// streamCameraTriggers streams camera triggers as server-sent events so an
// external camera can follow infractions.
func (s *Server) streamCameraTriggers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if s.Triggers == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "camera triggers are not published")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	id, c, err := s.Triggers.Subscribe(s.TriggerCapacity)
	if err != nil {
		writeJSONError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	defer s.Triggers.Unsubscribe(id)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	if _, err := w.Write([]byte(": ping\n\n")); err != nil {
		return
	}
	flusher.Flush()

	for {
		select {
		case trig, ok := <-c:
			if !ok {
				return
			}
			b, err := json.Marshal(trig)
			if err != nil {
				return
			}
			if _, err := fmt.Fprintf(w, "event: trigger\ndata: %s\n\n", b); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}
