package capture

import (
	"context"
	"encoding/binary"
	"math"
	"time"

	"voicedraft/internal/ports"
)

// rmsLevel computes a normalized [0,1] loudness level from little-endian
// 16-bit PCM samples. The gain lifts typical speech into a visible range.
func rmsLevel(buf []byte, gain float64) float64 {
	samples := len(buf) / 2
	if samples == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < samples; i++ {
		s := float64(int16(binary.LittleEndian.Uint16(buf[2*i:])))
		sum += s * s
	}
	rms := math.Sqrt(sum / float64(samples))
	level := rms / 32768.0 * gain
	if level > 1 {
		return 1
	}
	if level < 0 {
		return 0
	}
	return level
}

// sampleAmplitude reads PCM frames and publishes smoothed loudness levels
// until the context is cancelled. Read failures are non-fatal: the level
// drops to zero and sampling keeps retrying on the next tick. The monitor
// never changes session state.
func (s *Session) sampleAmplitude(ctx context.Context, audio ports.AudioSession, done chan struct{}) {
	defer close(done)

	interval := s.cfg.SampleInterval
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	gain := s.cfg.Gain
	if gain <= 0 {
		gain = 3
	}
	chunk := s.cfg.ChunkSize
	if chunk < 256 {
		chunk = 4096
	}

	buf := make([]byte, chunk)
	smoothed := 0.0
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.publishAmplitude(0)
			return
		case <-ticker.C:
		}

		n, err := audio.Read(buf)
		if err != nil {
			smoothed = 0
			s.publishAmplitude(0)
			continue
		}
		if s.paused() {
			smoothed = 0
			s.publishAmplitude(0)
			continue
		}
		level := rmsLevel(buf[:n], gain)
		smoothed = smoothed*0.4 + level*0.6
		s.publishAmplitude(smoothed)
	}
}
