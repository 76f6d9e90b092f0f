// Package audioconv decodes uploaded audio into the 16 kHz mono float32
// samples whisper expects and encodes captured samples as 16-bit WAV.
package audioconv

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
	"github.com/jfreymuth/oggvorbis"
	popus "github.com/pekim/opus"
)

const SampleRate = 16000

var ErrUnsupported = errors.New("unsupported audio format")

type Options struct {
	MaxSamples int // 0 = no limit
}

// Decode sniffs the container (RIFF/WAVE, Ogg Vorbis or Opus, MP3) and
// returns mono samples at SampleRate.
func Decode(r io.ReadSeeker, opt Options) ([]float32, error) {
	magic, err := bufio.NewReader(r).Peek(4)
	if err != nil && len(magic) < 3 {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	var x []float32
	switch {
	case string(magic) == "RIFF":
		x, err = decodeWAV(r)
	case string(magic) == "OggS":
		x, err = decodeOgg(r)
	case string(magic[:3]) == "ID3" || (magic[0] == 0xFF && magic[1]&0xE0 == 0xE0):
		x, err = decodeMP3(r)
	default:
		return nil, ErrUnsupported
	}
	if err != nil {
		return nil, err
	}

	if opt.MaxSamples > 0 && len(x) > opt.MaxSamples {
		x = x[:opt.MaxSamples]
	}
	return x, nil
}

func decodeWAV(r io.ReadSeeker) ([]float32, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, errors.New("invalid wav")
	}
	pb, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("wav: %w", err)
	}
	if pb == nil || len(pb.Data) == 0 {
		return nil, errors.New("empty wav")
	}

	bd := int(dec.BitDepth)
	if bd == 0 {
		bd = 16
	}

	ch, sr := 1, 44100
	if pb.Format != nil {
		if pb.Format.NumChannels > 0 {
			ch = pb.Format.NumChannels
		}
		if pb.Format.SampleRate > 0 {
			sr = pb.Format.SampleRate
		}
	}
	return normalize(intsToFloat32(pb.Data, bd), ch, sr), nil
}

func decodeMP3(r io.Reader) ([]float32, error) {
	dec, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, fmt.Errorf("mp3: %w", err)
	}
	var raw bytes.Buffer
	if _, err := io.Copy(&raw, dec); err != nil {
		return nil, fmt.Errorf("mp3: %w", err)
	}

	ints := make([]int16, raw.Len()/2)
	if err := binary.Read(&raw, binary.LittleEndian, &ints); err != nil {
		return nil, err
	}

	sr := dec.SampleRate()
	if sr <= 0 {
		sr = 44100
	}
	// go-mp3 always yields interleaved stereo
	return normalize(int16sToFloat32(ints), 2, sr), nil
}

// decodeOgg tries Vorbis first and falls back to Opus.
func decodeOgg(r io.ReadSeeker) ([]float32, error) {
	pcm, format, err := oggvorbis.ReadAll(r)
	if err == nil && format != nil && format.Channels > 0 && format.SampleRate > 0 {
		return normalize(pcm, format.Channels, format.SampleRate), nil
	}

	if _, serr := r.Seek(0, io.SeekStart); serr != nil {
		return nil, serr
	}
	x, oerr := decodeOpus(r)
	if oerr != nil {
		return nil, fmt.Errorf("ogg is neither vorbis (%v) nor opus: %w", err, oerr)
	}
	return x, nil
}

func decodeOpus(r io.ReadSeeker) ([]float32, error) {
	dec, err := popus.NewDecoder(r)
	if err != nil {
		return nil, err
	}
	defer dec.Destroy()

	ch := dec.ChannelCount()
	if ch <= 0 {
		ch = 1
	}

	var (
		pcm48 []float32
		buf   = make([]int16, 48_000*ch/2)
	)
	for {
		n, err := dec.Read(buf) // per channel
		if n > 0 {
			pcm48 = append(pcm48, int16sToFloat32(buf[:n*ch])...)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
	}
	if len(pcm48) == 0 {
		return nil, errors.New("empty opus stream")
	}
	return normalize(pcm48, ch, 48000), nil
}

// EncodeWAV writes mono samples as 16-bit PCM.
func EncodeWAV(w io.WriteSeeker, pcm []float32, sampleRate int) error {
	enc := wav.NewEncoder(w, sampleRate, 16, 1, 1)

	data := make([]int, len(pcm))
	for i, v := range pcm {
		data[i] = int(math.Round(clamp(float64(v), -1, 1) * 32767))
	}

	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("wav write: %w", err)
	}
	return enc.Close()
}

// Archive keeps captured utterances as capture_<id>.wav files in Dir.
type Archive struct {
	Dir string
}

func (a Archive) Keep(id string, pcm []float32) (string, error) {
	if err := os.MkdirAll(a.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", a.Dir, err)
	}
	path := filepath.Join(a.Dir, "capture_"+id+".wav")
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if err := EncodeWAV(f, pcm, SampleRate); err != nil {
		f.Close()
		os.Remove(path)
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return path, nil
}

func normalize(x []float32, channels, sampleRate int) []float32 {
	if channels > 1 {
		x = Downmix(x, channels)
	}
	return Resample(x, sampleRate, SampleRate)
}

func intsToFloat32(data []int, bitDepth int) []float32 {
	out := make([]float32, len(data))
	scale := 1.0 / float64(int64(1)<<(bitDepth-1))
	for i, v := range data {
		out[i] = float32(clamp(float64(v)*scale, -1.0, 1.0))
	}
	return out
}

func int16sToFloat32(data []int16) []float32 {
	out := make([]float32, len(data))
	for i, v := range data {
		out[i] = float32(v) / 32768
	}
	return out
}

// Int16ToFloat32 converts capture frames into whisper samples.
func Int16ToFloat32(data []int16) []float32 { return int16sToFloat32(data) }

// Downmix averages interleaved channels into mono.
func Downmix(in []float32, channels int) []float32 {
	if channels <= 1 {
		return in
	}
	n := len(in) / channels
	out := make([]float32, n)
	for i := range n {
		var sum float64
		for c := range channels {
			sum += float64(in[i*channels+c])
		}
		out[i] = float32(sum / float64(channels))
	}
	return out
}

// Resample converts between sample rates by linear interpolation.
func Resample(in []float32, inSR, outSR int) []float32 {
	if inSR == outSR || len(in) == 0 {
		return in
	}
	ratio := float64(outSR) / float64(inSR)
	n := int(math.Ceil(float64(len(in)) * ratio))
	out := make([]float32, n)
	for i := range n {
		src := float64(i) / ratio
		i0 := int(src)
		switch {
		case i0 >= len(in)-1:
			out[i] = in[len(in)-1]
		default:
			a := float32(src - float64(i0))
			out[i] = in[i0]*(1-a) + in[i0+1]*a
		}
	}
	return out
}

func clamp(x, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, x))
}
