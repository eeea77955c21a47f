// Package audioinfo probes uploaded audio for header metadata.
package audioinfo

import (
	"errors"
	"fmt"
	"os"

	"github.com/go-audio/wav"
)

// Info is the header metadata of a WAV file.
type Info struct {
	DurationSeconds float64
	SampleRate      int
	Channels        int
	BitDepth        int
}

// ProbeWAV reads a WAV file's header and reports duration, sample
// rate, channel count and bit depth. It never decodes sample data.
func ProbeWAV(path string) (*Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, errors.New("not a valid WAV file")
	}

	duration, err := dec.Duration()
	if err != nil {
		return nil, fmt.Errorf("reading WAV duration: %w", err)
	}

	return &Info{
		DurationSeconds: duration.Seconds(),
		SampleRate:      int(dec.SampleRate),
		Channels:        int(dec.NumChans),
		BitDepth:        int(dec.BitDepth),
	}, nil
}
