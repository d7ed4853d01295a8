package source

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Generated tone parameters for "tone" media names.
const (
	toneRate       = 48000
	toneChannels   = 2
	toneDurationUs = 30_000_000
	toneFreq       = 440
)

// Open returns a source for a media name: "tone" or "tone:<hz>" selects
// the generator, anything else is a WAV file path.
func Open(name string) (Source, error) {
	if name == "tone" || strings.HasPrefix(name, "tone:") {
		freq := float64(toneFreq)
		if f, ok := strings.CutPrefix(name, "tone:"); ok {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil || v <= 0 || v >= toneRate/2 {
				return nil, fmt.Errorf("source: invalid tone frequency %q", f)
			}
			freq = v
		}
		return NewTone(freq, toneRate, toneChannels, toneDurationUs), nil
	}
	if _, err := os.Stat(name); err != nil {
		return nil, fmt.Errorf("source: %w", err)
	}
	return NewWAV(name), nil
}
