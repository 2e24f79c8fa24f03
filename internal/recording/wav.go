package recording

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"mime"
	"strconv"
)

const (
	bytesPerSample = 2  // s16
	bitsPerSample  = 16 // s16
	wavPCMFormat   = 1
	wavHeaderSize  = 44
)

// ErrUnsupportedContainer is returned when a payload's MIME type is neither
// of the negotiated containers.
var ErrUnsupportedContainer = errors.New("unsupported audio container")

// EncodeWAVHeader returns the 44-byte RIFF header for dataLen bytes of PCM.
func EncodeWAVHeader(format PCMFormat, dataLen int) []byte {
	h := make([]byte, wavHeaderSize)
	copy(h[0:4], "RIFF")
	binary.LittleEndian.PutUint32(h[4:8], uint32(36+dataLen))
	copy(h[8:12], "WAVE")
	copy(h[12:16], "fmt ")
	binary.LittleEndian.PutUint32(h[16:20], 16)
	binary.LittleEndian.PutUint16(h[20:22], wavPCMFormat)
	binary.LittleEndian.PutUint16(h[22:24], uint16(format.Channels))
	binary.LittleEndian.PutUint32(h[24:28], uint32(format.SampleRate))
	binary.LittleEndian.PutUint32(h[28:32], uint32(format.BytesPerSecond()))
	binary.LittleEndian.PutUint16(h[32:34], uint16(format.FrameSize()))
	binary.LittleEndian.PutUint16(h[34:36], bitsPerSample)
	copy(h[36:40], "data")
	binary.LittleEndian.PutUint32(h[40:44], uint32(dataLen))
	return h
}

// Layout locates the PCM samples inside a payload.
type Layout struct {
	Format PCMFormat
	Offset int64
	Length int64
	// BigEndian is set for L16 payloads; samples must be swapped before
	// they reach a little-endian output.
	BigEndian bool
}

// Duration returns the playable length of the samples in seconds.
func (l Layout) Duration() float64 {
	bps := l.Format.BytesPerSecond()
	if bps == 0 {
		return 0
	}
	return float64(l.Length) / float64(bps)
}

// DecodeLayout inspects a payload of the given size and container type.
func DecodeLayout(mimeType string, r io.ReaderAt, size int64) (Layout, error) {
	mediaType, params, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return Layout{}, fmt.Errorf("invalid mime type %q: %w", mimeType, err)
	}

	switch mediaType {
	case PreferredMimeType:
		return decodeWAV(r, size)
	case "audio/l16":
		format := PCMFormat{SampleRate: 44100, Channels: 1}
		if v, ok := params["rate"]; ok {
			if format.SampleRate, err = strconv.Atoi(v); err != nil {
				return Layout{}, fmt.Errorf("invalid L16 rate %q: %w", v, err)
			}
		}
		if v, ok := params["channels"]; ok {
			if format.Channels, err = strconv.Atoi(v); err != nil {
				return Layout{}, fmt.Errorf("invalid L16 channels %q: %w", v, err)
			}
		}
		if err := checkFormat(format); err != nil {
			return Layout{}, err
		}
		length := size - size%int64(format.FrameSize())
		return Layout{Format: format, Length: length, BigEndian: true}, nil
	default:
		return Layout{}, fmt.Errorf("%w: %s", ErrUnsupportedContainer, mimeType)
	}
}

func decodeWAV(r io.ReaderAt, size int64) (Layout, error) {
	if size == 0 {
		return Layout{}, nil
	}

	riff := make([]byte, 12)
	if _, err := r.ReadAt(riff, 0); err != nil {
		return Layout{}, fmt.Errorf("failed to read RIFF header: %w", err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return Layout{}, fmt.Errorf("not a WAVE file")
	}

	var layout Layout
	haveFormat := false
	pos := int64(12)
	chunk := make([]byte, 8)

	for pos+8 <= size {
		if _, err := r.ReadAt(chunk, pos); err != nil {
			return Layout{}, fmt.Errorf("failed to read chunk header at %d: %w", pos, err)
		}
		id := string(chunk[0:4])
		chunkSize := int64(binary.LittleEndian.Uint32(chunk[4:8]))
		body := pos + 8

		switch id {
		case "fmt ":
			if chunkSize < 16 {
				return Layout{}, fmt.Errorf("fmt chunk too small (%d bytes)", chunkSize)
			}
			fmtChunk := make([]byte, 16)
			if _, err := r.ReadAt(fmtChunk, body); err != nil {
				return Layout{}, fmt.Errorf("failed to read fmt chunk: %w", err)
			}
			if tag := binary.LittleEndian.Uint16(fmtChunk[0:2]); tag != wavPCMFormat {
				return Layout{}, fmt.Errorf("unsupported WAVE format tag %d", tag)
			}
			if bits := binary.LittleEndian.Uint16(fmtChunk[14:16]); bits != bitsPerSample {
				return Layout{}, fmt.Errorf("unsupported bit depth %d", bits)
			}
			layout.Format = PCMFormat{
				Channels:   int(binary.LittleEndian.Uint16(fmtChunk[2:4])),
				SampleRate: int(binary.LittleEndian.Uint32(fmtChunk[4:8])),
			}
			if err := checkFormat(layout.Format); err != nil {
				return Layout{}, err
			}
			haveFormat = true

		case "data":
			if !haveFormat {
				return Layout{}, fmt.Errorf("data chunk before fmt chunk")
			}
			length := chunkSize
			if remaining := size - body; length > remaining {
				length = remaining
			}
			length -= length % int64(layout.Format.FrameSize())
			layout.Offset = body
			layout.Length = length
			return layout, nil
		}

		pos = body + chunkSize + chunkSize%2
	}

	return Layout{}, fmt.Errorf("no data chunk found")
}

func checkFormat(format PCMFormat) error {
	if format.Channels <= 0 || format.SampleRate <= 0 {
		return fmt.Errorf("invalid PCM format: %d Hz, %d channels", format.SampleRate, format.Channels)
	}
	return nil
}

// SwapSampleBytes converts 16-bit samples between byte orders in place.
// A trailing odd byte is left untouched.
func SwapSampleBytes(pcm []byte) {
	for i := 0; i+1 < len(pcm); i += 2 {
		pcm[i], pcm[i+1] = pcm[i+1], pcm[i]
	}
}
