package whisper

import (
	"encoding/binary"
	"fmt"
	"os"
)

// whisper.cpp operates on 16 kHz mono float32 samples; the source
// providers download audio re-encoded to exactly that.
const requiredSampleRate = 16000

// loadWAV reads a RIFF/WAV file and returns its samples as mono float32
// normalised to [-1.0, 1.0]. Only 16-bit signed little-endian PCM at
// 16 kHz is accepted; multi-channel audio is down-mixed by averaging.
func loadWAV(path string) ([]float32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read wav: %w", err)
	}
	pcm, sampleRate, channels, err := decodeWAV(data)
	if err != nil {
		return nil, fmt.Errorf("decode wav %q: %w", path, err)
	}
	if sampleRate != requiredSampleRate {
		return nil, fmt.Errorf("wav %q: sample rate %d Hz, need %d Hz", path, sampleRate, requiredSampleRate)
	}
	return pcmToFloat32Mono(pcm, channels), nil
}

// decodeWAV walks the RIFF chunk list and extracts the raw PCM payload
// along with its format parameters. Chunks other than "fmt " and "data"
// are skipped.
func decodeWAV(data []byte) (pcm []byte, sampleRate, channels int, err error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, 0, 0, fmt.Errorf("not a RIFF/WAVE file")
	}

	var haveFmt, haveData bool
	off := 12
	for off+8 <= len(data) {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := data[off+8:]
		if size > len(body) {
			size = len(body)
		}
		body = body[:size]

		switch id {
		case "fmt ":
			if len(body) < 16 {
				return nil, 0, 0, fmt.Errorf("fmt chunk too short (%d bytes)", len(body))
			}
			format := binary.LittleEndian.Uint16(body[0:2])
			if format != 1 {
				return nil, 0, 0, fmt.Errorf("audio format %d, only PCM (1) supported", format)
			}
			channels = int(binary.LittleEndian.Uint16(body[2:4]))
			sampleRate = int(binary.LittleEndian.Uint32(body[4:8]))
			if bits := binary.LittleEndian.Uint16(body[14:16]); bits != 16 {
				return nil, 0, 0, fmt.Errorf("%d bits per sample, only 16 supported", bits)
			}
			haveFmt = true
		case "data":
			pcm = body
			haveData = true
		}

		// Chunks are word-aligned; odd sizes carry a pad byte.
		off += 8 + size + (size & 1)
	}

	if !haveFmt {
		return nil, 0, 0, fmt.Errorf("missing fmt chunk")
	}
	if !haveData {
		return nil, 0, 0, fmt.Errorf("missing data chunk")
	}
	if channels <= 0 {
		return nil, 0, 0, fmt.Errorf("invalid channel count %d", channels)
	}
	return pcm, sampleRate, channels, nil
}

// pcmToFloat32 converts 16-bit signed little-endian PCM audio to float32
// samples normalised to the range [-1.0, 1.0]. The input length must be
// even (two bytes per sample); any trailing odd byte is silently ignored.
func pcmToFloat32(pcm []byte) []float32 {
	n := len(pcm) / 2
	samples := make([]float32, n)
	for i := range n {
		sample := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		samples[i] = float32(sample) / 32768.0
	}
	return samples
}

// pcmToFloat32Mono down-mixes multi-channel 16-bit PCM to mono float32 by
// averaging all channels per frame. If channels is 1 this is equivalent to
// pcmToFloat32.
func pcmToFloat32Mono(pcm []byte, channels int) []float32 {
	if channels <= 1 {
		return pcmToFloat32(pcm)
	}
	samplesPerChannel := len(pcm) / (2 * channels)
	mono := make([]float32, samplesPerChannel)
	for i := range samplesPerChannel {
		var sum float32
		for ch := range channels {
			idx := (i*channels + ch) * 2
			sample := int16(binary.LittleEndian.Uint16(pcm[idx : idx+2]))
			sum += float32(sample) / 32768.0
		}
		mono[i] = sum / float32(channels)
	}
	return mono
}
