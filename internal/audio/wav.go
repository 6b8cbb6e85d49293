// Package audio inspects downloaded audio before it is archived.
package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// RIFF layout.
const (
	chunkIDSize     = 4
	chunkSizeSize   = 4
	chunkHeaderSize = chunkIDSize + chunkSizeSize
	riffHeaderSize  = chunkHeaderSize + 4
	fmtChunkMinSize = 16
	riffID          = "RIFF"
	waveID          = "WAVE"
	fmtID           = "fmt "
	dataID          = "data"
)

// Limits for a plausible speech file.
const (
	maxSampleRate = 192000
	maxChannels   = 8
	bitsPerByte   = 8
)

// Static errors.
var (
	ErrInvalidWAV        = errors.New("invalid wav audio")
	ErrSampleRateRange   = fmt.Errorf("%w: sample rate must be between 1 and %d Hz", ErrInvalidWAV, maxSampleRate)
	ErrBitDepthValues    = fmt.Errorf("%w: bit depth must be 8, 16, 24, or 32", ErrInvalidWAV)
	ErrChannelsRange     = fmt.Errorf("%w: channels must be between 1 and %d", ErrInvalidWAV, maxChannels)
	ErrMissingFmtChunk   = fmt.Errorf("%w: no fmt chunk", ErrInvalidWAV)
	ErrMissingDataChunk  = fmt.Errorf("%w: no data chunk", ErrInvalidWAV)
	ErrTruncatedDataSize = fmt.Errorf("%w: data chunk runs past the end of the file", ErrInvalidWAV)
)

// Info describes a WAV stream.
type Info struct {
	SampleRate int
	BitDepth   int
	Channels   int
	DataSize   int
}

// Duration is the playback length of the sample data.
func (i Info) Duration() time.Duration {
	bytesPerSecond := i.SampleRate * i.Channels * i.BitDepth / bitsPerByte
	if bytesPerSecond == 0 {
		return 0
	}

	return time.Duration(i.DataSize) * time.Second / time.Duration(bytesPerSecond)
}

// Inspect parses the RIFF header of data, walking past metadata chunks such
// as LIST, and validates the format parameters.
func Inspect(data []byte) (Info, error) {
	if len(data) < riffHeaderSize {
		return Info{}, fmt.Errorf("%w: %d bytes is shorter than a RIFF header", ErrInvalidWAV, len(data))
	}

	if string(data[:chunkIDSize]) != riffID || string(data[chunkHeaderSize:riffHeaderSize]) != waveID {
		return Info{}, fmt.Errorf("%w: not a RIFF/WAVE stream", ErrInvalidWAV)
	}

	var (
		info     Info
		foundFmt bool
	)

	for offset := riffHeaderSize; offset+chunkHeaderSize <= len(data); {
		chunkID := string(data[offset : offset+chunkIDSize])
		chunkSize := int(binary.LittleEndian.Uint32(data[offset+chunkIDSize : offset+chunkHeaderSize]))
		body := offset + chunkHeaderSize

		switch chunkID {
		case fmtID:
			if chunkSize < fmtChunkMinSize || body+fmtChunkMinSize > len(data) {
				return Info{}, fmt.Errorf("%w: short fmt chunk", ErrInvalidWAV)
			}

			info.Channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			info.SampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			info.BitDepth = int(binary.LittleEndian.Uint16(data[body+14 : body+16]))
			foundFmt = true
		case dataID:
			if !foundFmt {
				return Info{}, ErrMissingFmtChunk
			}

			if body+chunkSize > len(data) {
				return Info{}, ErrTruncatedDataSize
			}

			info.DataSize = chunkSize

			return info, validate(info)
		}

		offset = body + chunkSize
		// Odd-sized chunks are padded to an even boundary.
		if chunkSize%2 != 0 {
			offset++
		}
	}

	if !foundFmt {
		return Info{}, ErrMissingFmtChunk
	}

	return Info{}, ErrMissingDataChunk
}

func validate(info Info) error {
	if info.SampleRate <= 0 || info.SampleRate > maxSampleRate {
		return fmt.Errorf("%w: got %d", ErrSampleRateRange, info.SampleRate)
	}

	switch info.BitDepth {
	case 8, 16, 24, 32:
	default:
		return fmt.Errorf("%w: got %d", ErrBitDepthValues, info.BitDepth)
	}

	if info.Channels <= 0 || info.Channels > maxChannels {
		return fmt.Errorf("%w: got %d", ErrChannelsRange, info.Channels)
	}

	return nil
}
