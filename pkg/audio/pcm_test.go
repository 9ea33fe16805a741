package audio_test

import (
	"encoding/binary"
	"testing"

	"github.com/MrWong99/speakwell/pkg/audio"
)

func pcm(samples ...int16) []byte {
	b := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(b[i*2:], uint16(s))
	}
	return b
}

func samples(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return out
}

func equal(a, b []int16) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestFormat_String(t *testing.T) {
	t.Parallel()
	tests := []struct {
		f    audio.Format
		want string
	}{
		{audio.Format{SampleRate: 16000, Channels: 1}, "16000Hz mono"},
		{audio.Format{SampleRate: 48000, Channels: 2}, "48000Hz stereo"},
		{audio.Format{SampleRate: 44100, Channels: 6}, "44100Hz 6ch"},
	}
	for _, tt := range tests {
		if got := tt.f.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestRemix(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		in       []int16
		from, to int
		want     []int16
	}{
		{"stereo to mono averages", []int16{100, 300, -50, 50}, 2, 1, []int16{200, 0}},
		{"stereo to mono clamps", []int16{32767, 32767}, 2, 1, []int16{32767}},
		{"mono to stereo duplicates", []int16{7, -7}, 1, 2, []int16{7, 7, -7, -7}},
		{"same count unchanged", []int16{1, 2}, 2, 2, []int16{1, 2}},
		{"quad to stereo keeps leading", []int16{1, 2, 3, 4}, 4, 2, []int16{1, 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := samples(audio.Remix(pcm(tt.in...), tt.from, tt.to))
			if !equal(got, tt.want) {
				t.Errorf("Remix = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestResample(t *testing.T) {
	t.Parallel()

	t.Run("downsample by three", func(t *testing.T) {
		t.Parallel()
		in := pcm(0, 10, 20, 30, 40, 50)
		got := samples(audio.Resample(in, 1, 48000, 16000))
		if !equal(got, []int16{0, 30}) {
			t.Errorf("got %v, want [0 30]", got)
		}
	})

	t.Run("upsample interpolates", func(t *testing.T) {
		t.Parallel()
		in := pcm(0, 100)
		got := samples(audio.Resample(in, 1, 8000, 16000))
		if !equal(got, []int16{0, 50, 100, 100}) {
			t.Errorf("got %v, want [0 50 100 100]", got)
		}
	})

	t.Run("stereo keeps channels apart", func(t *testing.T) {
		t.Parallel()
		in := pcm(0, 1000, 100, 1100)
		got := samples(audio.Resample(in, 2, 8000, 16000))
		if !equal(got, []int16{0, 1000, 50, 1050, 100, 1100, 100, 1100}) {
			t.Errorf("got %v", got)
		}
	})

	t.Run("zero rate unchanged", func(t *testing.T) {
		t.Parallel()
		in := pcm(1, 2, 3)
		if got := audio.Resample(in, 1, 0, 16000); len(got) != len(in) {
			t.Errorf("len = %d, want %d", len(got), len(in))
		}
	})
}

func TestNewConverter_InvalidFormat(t *testing.T) {
	t.Parallel()
	if _, err := audio.NewConverter(audio.Format{SampleRate: 48000}, audio.Format{SampleRate: 16000, Channels: 1}); err == nil {
		t.Error("expected an error for zero source channels")
	}
	if _, err := audio.NewConverter(audio.Format{SampleRate: 48000, Channels: 1}, audio.Format{Channels: 1}); err == nil {
		t.Error("expected an error for zero target rate")
	}
}

func TestConverter_Passthrough(t *testing.T) {
	t.Parallel()
	f := audio.Format{SampleRate: 16000, Channels: 1}
	c, err := audio.NewConverter(f, f)
	if err != nil {
		t.Fatalf("NewConverter: %v", err)
	}
	if !c.Passthrough() {
		t.Fatal("expected passthrough")
	}
	in := pcm(1, 2, 3)
	if got := c.Convert(in); &got[0] != &in[0] {
		t.Error("aligned passthrough chunk should be returned as is")
	}
}

func TestConverter_BrowserToRecognizer(t *testing.T) {
	t.Parallel()
	c, err := audio.NewConverter(
		audio.Format{SampleRate: 48000, Channels: 2},
		audio.Format{SampleRate: 16000, Channels: 1},
	)
	if err != nil {
		t.Fatalf("NewConverter: %v", err)
	}
	// Six stereo frames become two mono samples.
	in := pcm(0, 0, 10, 30, 20, 20, 30, 50, 40, 40, 50, 70)
	got := samples(c.Convert(in))
	if !equal(got, []int16{0, 40}) {
		t.Errorf("got %v, want [0 40]", got)
	}
}

func TestConverter_CarriesSplitFrames(t *testing.T) {
	t.Parallel()
	f := audio.Format{SampleRate: 16000, Channels: 2}
	c, err := audio.NewConverter(f, audio.Format{SampleRate: 16000, Channels: 1})
	if err != nil {
		t.Fatalf("NewConverter: %v", err)
	}
	whole := pcm(100, 300, 500, 700)

	first := c.Convert(whole[:3])
	if len(first) != 0 {
		t.Fatalf("partial frame produced %d bytes", len(first))
	}
	second := samples(c.Convert(whole[3:]))
	if !equal(second, []int16{200, 600}) {
		t.Errorf("got %v, want [200 600]", second)
	}
}
