// Package protocol defines the WebSocket message types exchanged between a
// coaching client (browser, kiosk) and the coaching server.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/teslashibe/go-cprcoach/pkg/geometry"
	"github.com/teslashibe/go-cprcoach/pkg/motion"
	"github.com/teslashibe/go-cprcoach/pkg/summary"
)

// MessageType identifies the type of WebSocket message
type MessageType string

const (
	// Client → Server messages
	TypeStartSession MessageType = "startSession" // Begin a train/test session
	TypeStopSession  MessageType = "stopSession"  // End the session, request summary
	TypeLandmarks    MessageType = "landmarks"    // Raw pose frame, analyzed server-side
	TypeVoice        MessageType = "voiceCommand" // Spoken question transcript

	// Server → Client messages
	TypeFeedback   MessageType = "feedback"   // Live coaching cue
	TypeSummary    MessageType = "summary"    // End-of-session report
	TypeVoiceReply MessageType = "voiceReply" // Answer to a voice command
	TypeVoiceAudio MessageType = "voiceAudio" // Synthesized speech for a reply

	// Bidirectional
	TypeMetrics MessageType = "metrics" // Per-frame metrics sample
	TypePing    MessageType = "ping"    // Health check
	TypePong    MessageType = "pong"    // Health check response
)

// Message is the base wrapper for all WebSocket messages
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp int64           `json:"ts,omitempty"` // Unix milliseconds
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewMessage creates a new message with the current timestamp
func NewMessage(msgType MessageType, data interface{}) (*Message, error) {
	var rawData json.RawMessage
	if data != nil {
		var err error
		rawData, err = json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal message data: %w", err)
		}
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
		Data:      rawData,
	}, nil
}

// ParseData unmarshals the message data into the provided struct
func (m *Message) ParseData(v interface{}) error {
	if m.Data == nil {
		return nil
	}
	return json.Unmarshal(m.Data, v)
}

// Bytes returns the JSON-encoded message
func (m *Message) Bytes() ([]byte, error) {
	return json.Marshal(m)
}

// ParseMessage parses a JSON message from bytes
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("failed to parse message: missing type")
	}
	return &msg, nil
}

// =============================================================================
// Client → Server Message Types
// =============================================================================

// StartSessionData selects the session mode
type StartSessionData struct {
	Mode string `json:"mode"`           // "train" or "test"
	Song string `json:"song,omitempty"` // Metronome track id, e.g. "staying_alive"
}

// MetricsData carries a sample computed client-side
type MetricsData struct {
	Metrics *motion.Sample `json:"metrics"`
	Ready   bool           `json:"ready"` // Pose detection is trustworthy for this frame
}

// LandmarksData carries one pose frame in fixed order: left shoulder, right
// shoulder, left elbow, right elbow, left wrist, right wrist.
type LandmarksData struct {
	Timestamp int64            `json:"ts,omitempty"` // Capture time, Unix milliseconds
	Landmarks []geometry.Point `json:"landmarks"`
}

// VoiceCommandData carries a transcribed question
type VoiceCommandData struct {
	Text string `json:"text"`
}

// =============================================================================
// Server → Client Message Types
// =============================================================================

// FeedbackData is a live coaching cue
type FeedbackData struct {
	Type           string `json:"type"` // always "feedback"
	Text           string `json:"text"`
	HighlightColor string `json:"highlightColor"`
	DuckMusic      bool   `json:"duckMusic"` // Lower background music while the cue plays
}

// SummaryData is the end-of-session report
type SummaryData struct {
	Type  string           `json:"type"` // always "summary"
	Text  string           `json:"text"`
	Stats *summary.Summary `json:"stats,omitempty"`
}

// VoiceReplyData answers a voice command
type VoiceReplyData struct {
	Type string `json:"type"` // always "voiceReply"
	Text string `json:"text"`
}

// VoiceAudioData carries synthesized speech
type VoiceAudioData struct {
	Audio  string `json:"audio"`            // base64 encoded
	Format string `json:"format,omitempty"` // e.g. "mp3_44100_128"
}

// =============================================================================
// Bidirectional Message Types
// =============================================================================

// PingData contains ping information
type PingData struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"ts"`
}

// PongData contains pong response
type PongData struct {
	ID        string `json:"id"`
	PingTS    int64  `json:"ping_ts"`
	PongTS    int64  `json:"pong_ts"`
	LatencyMs int64  `json:"latency_ms"`
}
