package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// RIFF layout offsets.
const (
	riffHeaderLen  = 12
	riffSizeOffset = 4
	riffSizeAdjust = 8
	chunkIDLen     = 4
	chunkSizeLen   = 4
)

var dataChunkID = []byte("data")

var (
	// ErrEmptyInput is returned when there is nothing to splice.
	ErrEmptyInput = errors.New("no audio containers to splice")
	// ErrMalformedContainer marks a container without a usable data chunk.
	// Such containers are skipped, never returned to the caller.
	ErrMalformedContainer = errors.New("malformed audio container")
	// ErrFormatMismatch is returned when containers disagree on their format.
	ErrFormatMismatch = errors.New("audio containers use different formats")
)

// FormatMismatchError reports the first container whose format differs from
// the header template.
type FormatMismatchError struct {
	Index int
	Want  Format
	Got   Format
}

func (e *FormatMismatchError) Error() string {
	return fmt.Sprintf("%v: container %d is %s, expected %s",
		ErrFormatMismatch, e.Index, e.Got, e.Want)
}

func (e *FormatMismatchError) Unwrap() error {
	return ErrFormatMismatch
}

// SpliceResult is the spliced container and what was left out of it.
type SpliceResult struct {
	// Data is the spliced WAV container.
	Data []byte
	// Clips is the number of containers whose payload is in Data.
	Clips int
	// Skipped holds the input indices of malformed containers, ascending.
	Skipped []int
}

// clip is the located payload of one well-formed container.
type clip struct {
	index     int
	headerLen int
	payload   []byte
}

// Splice joins WAV containers into one, in input order.
//
// A single container is returned as is. Otherwise the header of the first
// well-formed container is used as a template, its RIFF size and data size
// fields are rewritten for the combined payload, and the payloads follow in
// order. Containers without a data chunk or a readable format are skipped and
// listed in SpliceResult.Skipped. Well-formed containers that disagree on
// format fail the splice with a *FormatMismatchError.
func Splice(containers [][]byte) (*SpliceResult, error) {
	if len(containers) == 0 {
		return nil, ErrEmptyInput
	}

	if len(containers) == 1 {
		return &SpliceResult{Data: containers[0], Clips: 1, Skipped: nil}, nil
	}

	clips, skipped, err := collectClips(containers)
	if err != nil {
		return nil, err
	}

	if len(clips) == 0 {
		return nil, fmt.Errorf("%w: all %d containers are malformed", ErrEmptyInput, len(containers))
	}

	template := containers[clips[0].index][:clips[0].headerLen]

	total := 0
	for _, c := range clips {
		total += len(c.payload)
	}

	out := make([]byte, len(template)+total)
	offset := copy(out, template)

	for _, c := range clips {
		offset += copy(out[offset:], c.payload)
	}

	binary.LittleEndian.PutUint32(out[riffSizeOffset:], uint32(len(template)+total-riffSizeAdjust))
	binary.LittleEndian.PutUint32(out[len(template)-chunkSizeLen:], uint32(total))

	return &SpliceResult{Data: out, Clips: len(clips), Skipped: skipped}, nil
}

// collectClips locates every container's payload and checks the formats
// against the first well-formed container.
func collectClips(containers [][]byte) ([]clip, []int, error) {
	var (
		clips    []clip
		skipped  []int
		template Format
	)

	for index, container := range containers {
		headerLen, payload, locateErr := locatePayload(container)
		if locateErr != nil {
			skipped = append(skipped, index)

			continue
		}

		format, formatErr := ReadFormat(container)
		if formatErr != nil {
			skipped = append(skipped, index)

			continue
		}

		if len(clips) == 0 {
			template = format
		} else if format != template {
			return nil, skipped, &FormatMismatchError{Index: index, Want: template, Got: format}
		}

		clips = append(clips, clip{index: index, headerLen: headerLen, payload: payload})
	}

	return clips, skipped, nil
}

// locatePayload finds the data chunk of a container. It returns the length of
// everything up to and including the data size field, and the payload. A
// declared size larger than what is present is clamped to the available bytes.
func locatePayload(container []byte) (int, []byte, error) {
	if len(container) < riffHeaderLen+chunkIDLen+chunkSizeLen {
		return 0, nil, fmt.Errorf("%w: %d bytes is too short", ErrMalformedContainer, len(container))
	}

	markerIndex := bytes.Index(container[riffHeaderLen:], dataChunkID)
	if markerIndex < 0 {
		return 0, nil, fmt.Errorf("%w: no data chunk", ErrMalformedContainer)
	}

	sizeOffset := riffHeaderLen + markerIndex + chunkIDLen
	headerLen := sizeOffset + chunkSizeLen

	if headerLen > len(container) {
		return 0, nil, fmt.Errorf("%w: truncated data chunk header", ErrMalformedContainer)
	}

	declared := uint64(binary.LittleEndian.Uint32(container[sizeOffset:]))
	available := uint64(len(container) - headerLen)
	size := min(declared, available)

	return headerLen, container[headerLen : headerLen+int(size)], nil
}
