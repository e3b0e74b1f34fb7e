package playback

import (
	"encoding/binary"
	"fmt"

	"github.com/hraban/opus"
)

const (
	sampleRate = 48000
	channels   = 1
	// maxFrameSamples is the largest Opus frame (120ms at 48kHz).
	maxFrameSamples = 5760
)

// OpusDecoder decodes agent audio frames to s16le PCM.
type OpusDecoder struct {
	dec *opus.Decoder
}

// NewOpusDecoder constructs a 48kHz mono decoder.
func NewOpusDecoder() (*OpusDecoder, error) {
	dec, err := opus.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("create opus decoder: %w", err)
	}
	return &OpusDecoder{dec: dec}, nil
}

// Decode decodes one Opus frame and returns the PCM bytes.
func (d *OpusDecoder) Decode(frame []byte) ([]byte, error) {
	pcm := make([]int16, maxFrameSamples)
	n, err := d.dec.Decode(frame, pcm)
	if err != nil {
		return nil, fmt.Errorf("decode opus frame: %w", err)
	}
	out := make([]byte, n*2)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(pcm[i]))
	}
	return out, nil
}
