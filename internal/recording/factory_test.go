package recording

import (
	"bytes"
	"io"
	"mime"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type supportSet map[string]bool

func (s supportSet) IsTypeSupported(mimeType string) bool { return s[mimeType] }

var testFormat = PCMFormat{SampleRate: 16000, Channels: 1}

func readAll(t *testing.T, p Payload) []byte {
	t.Helper()
	data, err := io.ReadAll(p.NewReader())
	require.NoError(t, err)
	return data
}

func TestFactory_MimeTypeNegotiation(t *testing.T) {
	preferred := NewFactory(supportSet{PreferredMimeType: true}, testFormat)
	assert.Equal(t, PreferredMimeType, preferred.MimeType())

	fallback := NewFactory(supportSet{}, testFormat)
	mediaType, params, err := mime.ParseMediaType(fallback.MimeType())
	require.NoError(t, err)
	assert.Equal(t, "audio/l16", mediaType)
	assert.Equal(t, "16000", params["rate"])
	assert.Equal(t, "1", params["channels"])

	noSupport := NewFactory(nil, testFormat)
	assert.Equal(t, fallback.MimeType(), noSupport.MimeType())
}

func TestFactory_CreateEmpty(t *testing.T) {
	for _, support := range []FormatSupport{supportSet{PreferredMimeType: true}, supportSet{}} {
		rec := NewFactory(support, testFormat).Create(nil, 0)

		assert.Equal(t, 0, rec.Duration())
		assert.Equal(t, 0, rec.Payload().Len())
		_, err := uuid.Parse(rec.ID())
		assert.NoError(t, err, "id should be a UUID")
	}
}

func TestFactory_CreateWAVConcatenatesInOrder(t *testing.T) {
	f := NewFactory(supportSet{PreferredMimeType: true}, testFormat)
	rec := f.Create([][]byte{{1, 2}, {3, 4, 5, 6}, {7, 8}}, 3)

	assert.Equal(t, 3, rec.Duration())
	assert.Equal(t, PreferredMimeType, rec.Payload().MimeType())

	data := readAll(t, rec.Payload())
	require.Len(t, data, wavHeaderSize+8)
	assert.Equal(t, "RIFF", string(data[0:4]))
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, data[wavHeaderSize:])
}

func TestFactory_CreateL16SwapsToBigEndian(t *testing.T) {
	f := NewFactory(supportSet{}, testFormat)
	rec := f.Create([][]byte{{0x01, 0x02}, {0x03, 0x04}}, 1)

	assert.Equal(t, []byte{0x02, 0x01, 0x04, 0x03}, readAll(t, rec.Payload()))
}

func TestFactory_CreateCopiesChunks(t *testing.T) {
	f := NewFactory(supportSet{}, testFormat)
	chunk := []byte{9, 9}
	rec := f.Create([][]byte{chunk}, 1)
	chunk[0] = 0

	assert.Equal(t, []byte{9, 9}, readAll(t, rec.Payload()))
}

func TestFactory_IDsAreUnique(t *testing.T) {
	f := NewFactory(nil, testFormat)
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := f.Create(nil, 0).ID()
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestDecodeLayout_RoundTripWAV(t *testing.T) {
	f := NewFactory(supportSet{PreferredMimeType: true}, PCMFormat{SampleRate: 8000, Channels: 2})
	pcm := bytes.Repeat([]byte{1, 2, 3, 4}, 8000) // one second of stereo
	rec := f.Create([][]byte{pcm}, 1)

	data := readAll(t, rec.Payload())
	layout, err := DecodeLayout(rec.Payload().MimeType(), bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	assert.Equal(t, PCMFormat{SampleRate: 8000, Channels: 2}, layout.Format)
	assert.Equal(t, int64(wavHeaderSize), layout.Offset)
	assert.Equal(t, int64(len(pcm)), layout.Length)
	assert.False(t, layout.BigEndian)
	assert.InDelta(t, 1.0, layout.Duration(), 1e-9)
}

func TestDecodeLayout_L16(t *testing.T) {
	f := NewFactory(supportSet{}, testFormat)
	rec := f.Create([][]byte{make([]byte, 32001)}, 1)

	layout, err := DecodeLayout(rec.Payload().MimeType(), rec.Payload().NewReader(), int64(rec.Payload().Len()))
	require.NoError(t, err)

	assert.True(t, layout.BigEndian)
	assert.Equal(t, testFormat, layout.Format)
	assert.Equal(t, int64(32000), layout.Length, "trailing partial frame is dropped")
}

func TestDecodeLayout_Errors(t *testing.T) {
	tests := []struct {
		name     string
		mimeType string
		data     []byte
	}{
		{"unknown container", "audio/webm", []byte{1}},
		{"empty mime", "", []byte{1}},
		{"not riff", PreferredMimeType, bytes.Repeat([]byte{0}, 44)},
		{"no data chunk", PreferredMimeType, EncodeWAVHeader(testFormat, 0)[:36]},
		{"wav zero channels", PreferredMimeType, append(EncodeWAVHeader(PCMFormat{SampleRate: 8000}, 4), 1, 2, 3, 4)},
		{"wav zero rate", PreferredMimeType, append(EncodeWAVHeader(PCMFormat{Channels: 1}, 4), 1, 2, 3, 4)},
		{"l16 zero channels", FallbackMimeType + "; rate=8000; channels=0", []byte{1, 2, 3, 4}},
		{"l16 negative rate", FallbackMimeType + "; rate=-8000; channels=1", []byte{1, 2, 3, 4}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeLayout(tt.mimeType, bytes.NewReader(tt.data), int64(len(tt.data)))
			assert.Error(t, err)
		})
	}

	_, err := DecodeLayout("audio/webm", bytes.NewReader(nil), 0)
	assert.ErrorIs(t, err, ErrUnsupportedContainer)
}

func TestDecodeLayout_TruncatedDataChunk(t *testing.T) {
	header := EncodeWAVHeader(testFormat, 1000)
	data := append(header, make([]byte, 10)...)

	layout, err := DecodeLayout(PreferredMimeType, bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	assert.Equal(t, int64(10), layout.Length)
}
