package tts

// ElevenLabsVoices maps friendly preset names to ElevenLabs voice IDs.
var ElevenLabsVoices = map[string]string{
	"roger":     "CwhRBWXzGAHq8TQ4Fs17", // American male, confident
	"charlotte": "XB0fDUnXU5powFXDhCwa", // British female, warm
	"sarah":     "EXAVITQu4vr4xnSDxMaL", // American female, soft
	"rachel":    "21m00Tcm4TlvDq8ikWAM", // American female, calm
	"adam":      "pNInz6obpgDQGcFmaJgB", // American male, deep
}

// DefaultElevenLabsVoice is the default voice preset.
const DefaultElevenLabsVoice = "roger"

// ResolveElevenLabsVoice returns the voice ID for a preset name,
// or the input unchanged if it's already a voice ID.
func ResolveElevenLabsVoice(name string) string {
	if id, ok := ElevenLabsVoices[name]; ok {
		return id
	}
	return name
}
