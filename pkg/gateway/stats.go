package gateway

import (
	"fmt"
	"io"
)

// Stats contains hub statistics
type Stats struct {
	Connections       int    `json:"connections"`
	MessagesReceived  uint64 `json:"messages_received"`
	MessagesSent      uint64 `json:"messages_sent"`
	FramesProcessed   uint64 `json:"frames_processed"`
	SessionsStarted   uint64 `json:"sessions_started"`
	SessionsCompleted uint64 `json:"sessions_completed"`
	ParseErrors       uint64 `json:"parse_errors"`
}

// GetStats returns hub statistics
func (h *Hub) GetStats() Stats {
	return Stats{
		Connections:       h.ConnectionCount(),
		MessagesReceived:  h.messagesReceived.Load(),
		MessagesSent:      h.messagesSent.Load(),
		FramesProcessed:   h.framesProcessed.Load(),
		SessionsStarted:   h.sessionsStarted.Load(),
		SessionsCompleted: h.sessionsCompleted.Load(),
		ParseErrors:       h.parseErrors.Load(),
	}
}

type metric struct {
	name, help, kind string
	value            float64
}

// WritePrometheus writes the stats in the Prometheus text exposition format.
func (s Stats) WritePrometheus(w io.Writer) error {
	metrics := []metric{
		{"cprcoach_connections", "Connected coaching clients.", "gauge", float64(s.Connections)},
		{"cprcoach_messages_received_total", "Inbound WebSocket messages.", "counter", float64(s.MessagesReceived)},
		{"cprcoach_messages_sent_total", "Outbound WebSocket messages.", "counter", float64(s.MessagesSent)},
		{"cprcoach_frames_processed_total", "Metrics and landmark frames processed.", "counter", float64(s.FramesProcessed)},
		{"cprcoach_sessions_started_total", "Coaching sessions started.", "counter", float64(s.SessionsStarted)},
		{"cprcoach_sessions_completed_total", "Coaching sessions summarized.", "counter", float64(s.SessionsCompleted)},
		{"cprcoach_parse_errors_total", "Malformed inbound messages.", "counter", float64(s.ParseErrors)},
	}
	for _, m := range metrics {
		if _, err := fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s %s\n%s %g\n", m.name, m.help, m.name, m.kind, m.name, m.value); err != nil {
			return err
		}
	}
	return nil
}
