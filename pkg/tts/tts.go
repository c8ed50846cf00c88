// Package tts provides text-to-speech for spoken coaching replies.
//
// ElevenLabs is the production provider. Providers return the complete
// encoded clip; callers base64 it onto the websocket as-is.
//
// Example usage:
//
//	provider, _ := tts.NewElevenLabs(
//	    tts.WithAPIKey(os.Getenv("ELEVENLABS_API_KEY")),
//	)
//	defer provider.Close()
//
//	result, _ := provider.Synthesize(ctx, "Push at least two inches deep.")
//	// result.Audio contains MP3 bytes
package tts

import (
	"context"
	"time"
)

// Provider defines the TTS provider interface.
type Provider interface {
	// Synthesize converts text to audio, returning the complete audio buffer.
	Synthesize(ctx context.Context, text string) (*AudioResult, error)

	// Health checks provider connectivity and API key validity.
	Health(ctx context.Context) error

	// Close releases any resources held by the provider.
	Close() error
}

// AudioResult represents a complete audio synthesis result.
type AudioResult struct {
	// Audio contains the encoded audio data.
	Audio []byte

	// Format describes the audio encoding and sample rate.
	Format AudioFormat

	// CharCount is the number of characters synthesized.
	CharCount int

	// LatencyMs is the request latency in milliseconds.
	LatencyMs int64
}

// AudioFormat describes the audio encoding parameters.
type AudioFormat struct {
	// Encoding specifies the codec, e.g. mp3_44100_128.
	Encoding Encoding

	// SampleRate in Hz.
	SampleRate int

	// Channels is 1 for mono, 2 for stereo.
	Channels int
}

// Encoding represents audio encoding types.
// These match ElevenLabs output format options.
type Encoding string

const (
	EncodingMP3   Encoding = "mp3_44100_128" // MP3 128kbps, browser playable
	EncodingPCM24 Encoding = "pcm_24000"     // 24kHz mono PCM16
	EncodingPCM44 Encoding = "pcm_44100"     // 44.1kHz mono PCM16
)

// VoiceSettings controls voice characteristics.
type VoiceSettings struct {
	// Stability controls voice consistency (0.0-1.0).
	// Lower values = more expressive/variable, higher = more consistent.
	Stability float64

	// SimilarityBoost controls how closely the voice matches the original (0.0-1.0).
	SimilarityBoost float64

	// Style controls style exaggeration (0.0-1.0).
	Style float64

	// SpeakerBoost enhances speaker clarity.
	SpeakerBoost bool
}

// DefaultVoiceSettings returns a calm, steady instructor delivery.
func DefaultVoiceSettings() VoiceSettings {
	return VoiceSettings{
		Stability:       0.7,
		SimilarityBoost: 0.8,
		Style:           0.2,
		SpeakerBoost:    true,
	}
}

// SampleRateFromEncoding extracts the sample rate from an encoding type.
func SampleRateFromEncoding(enc Encoding) int {
	switch enc {
	case EncodingPCM24:
		return 24000
	case EncodingPCM44, EncodingMP3:
		return 44100
	default:
		return 44100
	}
}

// MIMEType returns the Accept header value for enc.
func MIMEType(enc Encoding) string {
	switch enc {
	case EncodingPCM24, EncodingPCM44:
		return "audio/pcm"
	default:
		return "audio/mpeg"
	}
}

// defaultTimeout bounds a single synthesis request.
const defaultTimeout = 15 * time.Second
