package protocol

import (
	"encoding/base64"

	"github.com/teslashibe/go-cprcoach/pkg/motion"
	"github.com/teslashibe/go-cprcoach/pkg/summary"
)

// =============================================================================
// Helper functions for creating messages
// =============================================================================

// NewFeedbackMessage creates a live coaching cue
func NewFeedbackMessage(text, color string, duckMusic bool) (*Message, error) {
	return NewMessage(TypeFeedback, FeedbackData{
		Type:           string(TypeFeedback),
		Text:           text,
		HighlightColor: color,
		DuckMusic:      duckMusic,
	})
}

// NewSummaryMessage creates an end-of-session report. stats may be nil.
func NewSummaryMessage(text string, stats *summary.Summary) (*Message, error) {
	return NewMessage(TypeSummary, SummaryData{
		Type:  string(TypeSummary),
		Text:  text,
		Stats: stats,
	})
}

// NewVoiceReplyMessage creates an answer to a voice command
func NewVoiceReplyMessage(text string) (*Message, error) {
	return NewMessage(TypeVoiceReply, VoiceReplyData{
		Type: string(TypeVoiceReply),
		Text: text,
	})
}

// NewVoiceAudioMessage creates a synthesized speech message
func NewVoiceAudioMessage(audio []byte, format string) (*Message, error) {
	return NewMessage(TypeVoiceAudio, VoiceAudioData{
		Audio:  base64.StdEncoding.EncodeToString(audio),
		Format: format,
	})
}

// NewMetricsMessage echoes a server-computed sample
func NewMetricsMessage(sample *motion.Sample, ready bool) (*Message, error) {
	return NewMessage(TypeMetrics, MetricsData{
		Metrics: sample,
		Ready:   ready,
	})
}

// NewPongMessage creates a pong response message
func NewPongMessage(id string, pingTS, pongTS int64) (*Message, error) {
	return NewMessage(TypePong, PongData{
		ID:        id,
		PingTS:    pingTS,
		PongTS:    pongTS,
		LatencyMs: pongTS - pingTS,
	})
}

// =============================================================================
// Helper functions for parsing messages
// =============================================================================

// GetStartSessionData extracts session start data from a message
func (m *Message) GetStartSessionData() (*StartSessionData, error) {
	var data StartSessionData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetMetricsData extracts a metrics sample from a message
func (m *Message) GetMetricsData() (*MetricsData, error) {
	var data MetricsData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetLandmarksData extracts a pose frame from a message
func (m *Message) GetLandmarksData() (*LandmarksData, error) {
	var data LandmarksData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetVoiceCommandData extracts a voice command from a message
func (m *Message) GetVoiceCommandData() (*VoiceCommandData, error) {
	var data VoiceCommandData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetPingData extracts ping data from a message
func (m *Message) GetPingData() (*PingData, error) {
	var data PingData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// DecodeAudio decodes the base64 audio data
func (v *VoiceAudioData) DecodeAudio() ([]byte, error) {
	return base64.StdEncoding.DecodeString(v.Audio)
}
