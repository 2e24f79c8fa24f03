// Package recording holds finalized recordings: the immutable Recording
// entity, the Factory that packages captured fragments into one, and the
// in-memory Library that lists them.
package recording

import "bytes"

// PCMFormat describes signed 16-bit little-endian PCM as captured from the
// microphone.
type PCMFormat struct {
	SampleRate int `json:"sample_rate" yaml:"sample_rate"`
	Channels   int `json:"channels" yaml:"channels"`
}

// BytesPerSecond is the PCM data rate of the format.
func (f PCMFormat) BytesPerSecond() int {
	return f.SampleRate * f.FrameSize()
}

// FrameSize is the size in bytes of one sample across all channels.
func (f PCMFormat) FrameSize() int {
	return f.Channels * bytesPerSample
}

// Payload is the binary audio data of a recording plus its container tag.
type Payload struct {
	mimeType string
	data     []byte
}

// NewPayload tags data with a container MIME type. The payload takes
// ownership of data; callers must not modify it afterwards.
func NewPayload(mimeType string, data []byte) Payload {
	return Payload{mimeType: mimeType, data: data}
}

// MimeType returns the container tag chosen when the payload was packaged.
func (p Payload) MimeType() string { return p.mimeType }

// Len returns the payload size in bytes.
func (p Payload) Len() int { return len(p.data) }

// NewReader returns a read-only view of the payload bytes.
func (p Payload) NewReader() *bytes.Reader { return bytes.NewReader(p.data) }

// Recording is a finalized capture. It is never mutated after creation.
type Recording struct {
	id       string
	payload  Payload
	duration int
}

// New builds a Recording. The Factory is the normal way to obtain one.
func New(id string, payload Payload, duration int) Recording {
	if duration < 0 {
		duration = 0
	}
	return Recording{id: id, payload: payload, duration: duration}
}

// ID returns the identifier assigned at creation.
func (r Recording) ID() string { return r.id }

// Payload returns the packaged audio data.
func (r Recording) Payload() Payload { return r.payload }

// Duration returns the recorded length in whole seconds.
func (r Recording) Duration() int { return r.duration }
