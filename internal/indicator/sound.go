package indicator

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/jfreymuth/pulse"
)

type cueKind int

const (
	cueStart cueKind = iota + 1
	cueComplete
	cueEmpty
	cueError
)

const (
	cueSampleRate = 16000
	cueVolume     = 0.18
	cueGap        = 22 * time.Millisecond
	cueRamp       = 5 * time.Millisecond
)

// tone is one sine segment of a cue.
type tone struct {
	hz  float64
	dur time.Duration
}

// Rising pairs mean "go" and "done"; falling means failure.
var cueTones = map[cueKind][]tone{
	cueStart:    {{880, 70 * time.Millisecond}, {1175, 70 * time.Millisecond}},
	cueComplete: {{740, 65 * time.Millisecond}, {988, 90 * time.Millisecond}},
	cueEmpty:    {{620, 120 * time.Millisecond}},
	cueError:    {{480, 75 * time.Millisecond}, {360, 90 * time.Millisecond}},
}

var renderedCues = sync.OnceValue(func() map[cueKind][]int16 {
	out := make(map[cueKind][]int16, len(cueTones))
	for kind, tones := range cueTones {
		out[kind] = renderCue(tones, cueVolume)
	}
	return out
})

func cueSamples(kind cueKind) []int16 {
	return renderedCues()[kind]
}

// emitCue plays kind on the default Pulse sink and blocks until drained.
func emitCue(kind cueKind) error {
	samples := cueSamples(kind)
	if len(samples) == 0 {
		return nil
	}

	client, err := pulse.NewClient(
		pulse.ClientApplicationName("earshot"),
		pulse.ClientApplicationIconName("audio-input-microphone"),
	)
	if err != nil {
		return fmt.Errorf("connect pulse server: %w", err)
	}
	defer client.Close()

	stream, err := client.NewPlayback(
		pcmReader(samples),
		pulse.PlaybackMono,
		pulse.PlaybackSampleRate(cueSampleRate),
		pulse.PlaybackLatency(0.02),
		pulse.PlaybackMediaName("earshot cue"),
	)
	if err != nil {
		return fmt.Errorf("open cue playback: %w", err)
	}
	defer stream.Close()

	stream.Start()
	stream.Drain()
	if err := stream.Error(); err != nil {
		return fmt.Errorf("play cue: %w", err)
	}
	return nil
}

func pcmReader(samples []int16) pulse.Int16Reader {
	rest := samples
	return func(buf []int16) (int, error) {
		n := copy(buf, rest)
		rest = rest[n:]
		if len(rest) == 0 {
			return n, pulse.EndOfData
		}
		return n, nil
	}
}

// renderCue joins tones with short silences.
func renderCue(tones []tone, volume float64) []int16 {
	var pcm []int16
	for i, t := range tones {
		if i > 0 {
			pcm = append(pcm, make([]int16, sampleCount(cueGap))...)
		}
		pcm = append(pcm, renderTone(t, volume)...)
	}
	return pcm
}

// renderTone synthesizes a sine with linear attack and release ramps so the
// cue does not click.
func renderTone(t tone, volume float64) []int16 {
	n := sampleCount(t.dur)
	if n == 0 || t.hz <= 0 || volume <= 0 {
		return nil
	}
	ramp := max(1, min(n/10, sampleCount(cueRamp)))

	pcm := make([]int16, n)
	step := 2 * math.Pi * t.hz / cueSampleRate
	for i := range pcm {
		gain := math.Min(1, math.Min(float64(i), float64(n-1-i))/float64(ramp))
		pcm[i] = int16(math.Round(math.Sin(step*float64(i)) * volume * gain * math.MaxInt16))
	}
	return pcm
}

func sampleCount(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Round(d.Seconds() * cueSampleRate))
}
