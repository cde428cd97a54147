// Package audio splices WAV containers returned by independent synthesis calls
// into one playable container.
//
// Only the RIFF/WAVE layout produced by XTTS is understood: a 12 byte RIFF
// header, a fmt chunk, optional extra chunks, then a data chunk. Payloads are
// copied as opaque bytes; samples are never decoded.
package audio

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/go-audio/wav"
)

// Limits a container's format must fall within to be spliced.
const (
	maxSampleRate = 192000
	maxChannels   = 8
)

// Supported sample widths.
const (
	bitDepth8  = 8
	bitDepth16 = 16
	bitDepth24 = 24
	bitDepth32 = 32
)

const (
	errFmtSampleRateRange = "%w: sample rate %d outside 1..%d Hz"
	errFmtChannelsRange   = "%w: %d channels outside 1..%d"
	errFmtBitDepthValue   = "%w: bit depth %d is not 8, 16, 24 or 32"
)

// ErrInvalidFormat is returned when a container's fmt chunk is missing or
// carries values no WAV player accepts.
var ErrInvalidFormat = errors.New("invalid wav format")

// Format holds the fmt chunk fields that must agree across spliced containers.
type Format struct {
	AudioFormat uint16
	Channels    uint16
	SampleRate  uint32
	BitDepth    uint16
}

// String renders the format for log lines and error messages.
func (f Format) String() string {
	return fmt.Sprintf("%d Hz, %d ch, %d-bit, format %d",
		f.SampleRate, f.Channels, f.BitDepth, f.AudioFormat)
}

// Validate checks the format against the supported ranges.
func (f Format) Validate() error {
	if f.SampleRate == 0 || f.SampleRate > maxSampleRate {
		return fmt.Errorf(errFmtSampleRateRange, ErrInvalidFormat, f.SampleRate, maxSampleRate)
	}

	if f.Channels == 0 || f.Channels > maxChannels {
		return fmt.Errorf(errFmtChannelsRange, ErrInvalidFormat, f.Channels, maxChannels)
	}

	switch f.BitDepth {
	case bitDepth8, bitDepth16, bitDepth24, bitDepth32:
		return nil
	default:
		return fmt.Errorf(errFmtBitDepthValue, ErrInvalidFormat, f.BitDepth)
	}
}

// ReadFormat parses the fmt chunk of a WAV container.
func ReadFormat(container []byte) (Format, error) {
	decoder := wav.NewDecoder(bytes.NewReader(container))
	decoder.ReadInfo()

	err := decoder.Err()
	if err != nil {
		return Format{}, fmt.Errorf("%w: %w", ErrInvalidFormat, err)
	}

	format := Format{
		AudioFormat: decoder.WavAudioFormat,
		Channels:    decoder.NumChans,
		SampleRate:  decoder.SampleRate,
		BitDepth:    decoder.BitDepth,
	}

	validateErr := format.Validate()
	if validateErr != nil {
		return Format{}, validateErr
	}

	return format, nil
}
