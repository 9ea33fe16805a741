// Package audio converts 16-bit little-endian PCM between the format a
// client records in and the format a speech recognizer expects.
//
// Browsers usually capture at 44.1 or 48 kHz stereo while recognizers are
// configured for 16 kHz mono. A [Converter] bridges the two for one stream.
package audio

import (
	"fmt"
	"log/slog"
	"sync"
)

// bytesPerSample is the width of one int16 sample.
const bytesPerSample = 2

// Format describes the sample rate and channel count of a PCM stream.
type Format struct {
	SampleRate int
	Channels   int
}

// Valid reports whether f describes a usable stream.
func (f Format) Valid() bool {
	return f.SampleRate > 0 && f.Channels > 0
}

// String returns a label such as "48000Hz stereo".
func (f Format) String() string {
	switch f.Channels {
	case 1:
		return fmt.Sprintf("%dHz mono", f.SampleRate)
	case 2:
		return fmt.Sprintf("%dHz stereo", f.SampleRate)
	default:
		return fmt.Sprintf("%dHz %dch", f.SampleRate, f.Channels)
	}
}

// frameSize is the byte length of one interleaved frame.
func (f Format) frameSize() int { return f.Channels * bytesPerSample }

// Converter turns chunks of PCM in From into PCM in To. Chunks may split a
// frame anywhere; the partial frame is held back and completed by the next
// chunk. A Converter belongs to one stream and is not safe for concurrent
// use.
type Converter struct {
	From, To Format

	carry  []byte
	logged sync.Once
}

// NewConverter validates both formats and returns a [Converter].
func NewConverter(from, to Format) (*Converter, error) {
	if !from.Valid() {
		return nil, fmt.Errorf("audio: invalid source format %s", from)
	}
	if !to.Valid() {
		return nil, fmt.Errorf("audio: invalid target format %s", to)
	}
	return &Converter{From: from, To: to}, nil
}

// Passthrough reports whether chunks are forwarded unchanged.
func (c *Converter) Passthrough() bool { return c.From == c.To }

// Convert returns chunk in the target format. The result is empty when the
// chunk did not complete a frame.
func (c *Converter) Convert(chunk []byte) []byte {
	if c.Passthrough() && len(c.carry) == 0 && len(chunk)%c.From.frameSize() == 0 {
		return chunk
	}
	c.logged.Do(func() {
		if !c.Passthrough() {
			slog.Debug("audio: converting stream", "from", c.From.String(), "to", c.To.String())
		}
	})

	pcm := chunk
	if len(c.carry) > 0 {
		pcm = append(c.carry, chunk...)
		c.carry = nil
	}
	fs := c.From.frameSize()
	if rem := len(pcm) % fs; rem != 0 {
		c.carry = append([]byte(nil), pcm[len(pcm)-rem:]...)
		pcm = pcm[:len(pcm)-rem]
	}
	if len(pcm) == 0 {
		return nil
	}

	// Channels first when narrowing so the resampler touches fewer samples.
	channels := c.From.Channels
	if c.To.Channels < channels {
		pcm = Remix(pcm, channels, c.To.Channels)
		channels = c.To.Channels
	}
	pcm = Resample(pcm, channels, c.From.SampleRate, c.To.SampleRate)
	if c.To.Channels != channels {
		pcm = Remix(pcm, channels, c.To.Channels)
	}
	return pcm
}

// Remix changes the channel count of interleaved PCM. Narrowing to mono
// averages every channel; other narrowing keeps the leading channels.
// Widening from mono copies the sample into each channel; other widening
// pads with silence.
func Remix(pcm []byte, from, to int) []byte {
	if from == to || from <= 0 || to <= 0 {
		return pcm
	}
	frames := len(pcm) / (from * bytesPerSample)
	out := make([]byte, frames*to*bytesPerSample)
	for i := range frames {
		in := pcm[i*from*bytesPerSample:]
		dst := out[i*to*bytesPerSample:]
		switch {
		case to == 1:
			var sum int32
			for ch := range from {
				sum += int32(sample(in, ch))
			}
			putSample(dst, 0, clamp(sum/int32(from)))
		case from == 1:
			s := sample(in, 0)
			for ch := range to {
				putSample(dst, ch, s)
			}
		default:
			for ch := range min(from, to) {
				putSample(dst, ch, sample(in, ch))
			}
		}
	}
	return out
}

// Resample converts interleaved PCM with the given channel count from
// srcRate to dstRate by linear interpolation. Non-positive or equal rates
// return pcm unchanged.
func Resample(pcm []byte, channels, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || channels <= 0 || srcRate == dstRate {
		return pcm
	}
	srcFrames := len(pcm) / (channels * bytesPerSample)
	if srcFrames == 0 {
		return nil
	}
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	out := make([]byte, dstFrames*channels*bytesPerSample)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range dstFrames {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)
		next := min(idx+1, srcFrames-1)

		a := pcm[idx*channels*bytesPerSample:]
		b := pcm[next*channels*bytesPerSample:]
		dst := out[i*channels*bytesPerSample:]
		for ch := range channels {
			s0, s1 := float64(sample(a, ch)), float64(sample(b, ch))
			putSample(dst, ch, int16(s0*(1-frac)+s1*frac))
		}
	}
	return out
}

func sample(frame []byte, ch int) int16 {
	i := ch * bytesPerSample
	return int16(frame[i]) | int16(frame[i+1])<<8
}

func putSample(frame []byte, ch int, s int16) {
	i := ch * bytesPerSample
	frame[i] = byte(s)
	frame[i+1] = byte(s >> 8)
}

func clamp(v int32) int16 {
	switch {
	case v > 32767:
		return 32767
	case v < -32768:
		return -32768
	}
	return int16(v)
}
