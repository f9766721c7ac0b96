package media

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
)

// WAVData holds decoded mono PCM samples normalized to [-1, 1].
type WAVData struct {
	SampleRate int
	Samples    []float64
}

// ReadWAV decodes a mono 16-bit PCM WAV file, the format ExtractChannels
// produces. Other encodings are rejected rather than misread.
func ReadWAV(path string) (*WAVData, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open wav %s: %w", path, err)
	}
	defer f.Close()

	var riff [12]byte
	if _, err := io.ReadFull(f, riff[:]); err != nil {
		return nil, fmt.Errorf("failed to read RIFF header of %s: %w", path, err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return nil, fmt.Errorf("%s is not a RIFF/WAVE file", path)
	}

	var (
		sampleRate    int
		channels      int
		bitsPerSample int
		haveFmt       bool
	)
	for {
		var hdr [8]byte
		if _, err := io.ReadFull(f, hdr[:]); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return nil, fmt.Errorf("%s has no data chunk", path)
			}
			return nil, fmt.Errorf("failed to read chunk header of %s: %w", path, err)
		}
		chunkID := string(hdr[0:4])
		size := binary.LittleEndian.Uint32(hdr[4:8])

		switch chunkID {
		case "fmt ":
			body := make([]byte, size)
			if _, err := io.ReadFull(f, body); err != nil {
				return nil, fmt.Errorf("failed to read fmt chunk of %s: %w", path, err)
			}
			format := binary.LittleEndian.Uint16(body[0:2])
			channels = int(binary.LittleEndian.Uint16(body[2:4]))
			sampleRate = int(binary.LittleEndian.Uint32(body[4:8]))
			bitsPerSample = int(binary.LittleEndian.Uint16(body[14:16]))
			if format != 1 {
				return nil, fmt.Errorf("%s: unsupported wav format %d (want PCM)", path, format)
			}
			haveFmt = true
		case "data":
			if !haveFmt {
				return nil, fmt.Errorf("%s: data chunk before fmt chunk", path)
			}
			if channels != 1 || bitsPerSample != 16 {
				return nil, fmt.Errorf("%s: want mono 16-bit PCM, got %d channels at %d bits", path, channels, bitsPerSample)
			}
			raw := make([]byte, size)
			if _, err := io.ReadFull(f, raw); err != nil {
				return nil, fmt.Errorf("failed to read samples of %s: %w", path, err)
			}
			samples := make([]float64, len(raw)/2)
			for i := range samples {
				v := int16(binary.LittleEndian.Uint16(raw[2*i : 2*i+2]))
				samples[i] = float64(v) / math.MaxInt16
			}
			return &WAVData{SampleRate: sampleRate, Samples: samples}, nil
		default:
			// Skip unknown chunks (LIST, fact, ...). Chunks are word-aligned.
			skip := int64(size)
			if size%2 == 1 {
				skip++
			}
			if _, err := f.Seek(skip, io.SeekCurrent); err != nil {
				return nil, fmt.Errorf("failed to skip chunk %q of %s: %w", chunkID, path, err)
			}
		}
	}
}

// ChannelCorrelation returns the Pearson correlation of two equal-length
// sample slices, used by the audio-layout gate to detect duplicated
// channels. Slices of different lengths are compared over the shorter.
func ChannelCorrelation(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n == 0 {
		return 0
	}
	var meanA, meanB float64
	for i := 0; i < n; i++ {
		meanA += a[i]
		meanB += b[i]
	}
	meanA /= float64(n)
	meanB /= float64(n)

	var cov, varA, varB float64
	for i := 0; i < n; i++ {
		da, db := a[i]-meanA, b[i]-meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}
	if varA == 0 || varB == 0 {
		return 0
	}
	return cov / math.Sqrt(varA*varB)
}
