package recording

import (
	"log/slog"
	"mime"
	"strconv"

	"github.com/google/uuid"
)

// Container formats considered when packaging a recording. Only these two
// are negotiated; there is no further fallback.
const (
	PreferredMimeType = "audio/wav"
	FallbackMimeType  = "audio/L16"
)

// FormatSupport answers whether the platform can play back a container.
type FormatSupport interface {
	IsTypeSupported(mimeType string) bool
}

// Factory packages the fragments of a finished session into a Recording.
type Factory struct {
	support FormatSupport
	format  PCMFormat
	newID   func() string
}

// NewFactory creates a factory for PCM captured in the given format.
func NewFactory(support FormatSupport, format PCMFormat) *Factory {
	return &Factory{
		support: support,
		format:  format,
		newID:   uuid.NewString,
	}
}

// MimeType negotiates the container: the preferred one when supported,
// otherwise the fallback.
func (f *Factory) MimeType() string {
	if f.support != nil && f.support.IsTypeSupported(PreferredMimeType) {
		return PreferredMimeType
	}
	return mime.FormatMediaType(FallbackMimeType, map[string]string{
		"rate":     strconv.Itoa(f.format.SampleRate),
		"channels": strconv.Itoa(f.format.Channels),
	})
}

// Create concatenates chunks in order into a payload tagged with the
// negotiated container and assigns a fresh identifier. No chunks and a zero
// duration are valid and produce an empty recording.
func (f *Factory) Create(chunks [][]byte, duration int) Recording {
	size := 0
	for _, c := range chunks {
		size += len(c)
	}

	pcm := make([]byte, 0, size)
	for _, c := range chunks {
		pcm = append(pcm, c...)
	}

	mimeType := f.MimeType()
	var data []byte
	switch {
	case len(pcm) == 0:
		data = pcm
	case mimeType == PreferredMimeType:
		data = append(EncodeWAVHeader(f.format, len(pcm)), pcm...)
	default:
		// L16 is big-endian on the wire.
		SwapSampleBytes(pcm)
		data = pcm
	}

	rec := New(f.newID(), NewPayload(mimeType, data), duration)
	slog.Debug("Recording packaged", "id", rec.ID(), "mime_type", mimeType, "bytes", len(data), "chunks", len(chunks), "duration", duration)
	return rec
}
