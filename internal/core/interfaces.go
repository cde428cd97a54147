// Package core defines the types and interfaces shared by the gateway's
// transports and its speech synthesis engine.
package core

import "context"

// ObjectStore defines the interface for interacting with a key-value blob store.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte) error
}

// SpeechRequest holds the parameters of one text-to-speech job.
// Empty Speaker and Language fall back to the engine defaults.
type SpeechRequest struct {
	Text     string
	Language string
	Speaker  string
}

// SpeechResult is the synthesized audio of a SpeechRequest.
type SpeechResult struct {
	// Audio is a single WAV container.
	Audio []byte
	// Chunks is the number of synthesis calls the text was split into.
	Chunks int
	// Skipped lists chunk indices whose audio was malformed and left out.
	Skipped []int
}

// Synthesizer turns text into speech.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SpeechRequest) (*SpeechResult, error)
}

// VoiceLister lists the speaker names a Synthesizer accepts.
type VoiceLister interface {
	Names(ctx context.Context) ([]string, error)
}
