package wake

import (
	"context"
	"math"
	"strings"
	"time"
)

type Transcriber interface {
	Transcribe(ctx context.Context, pcm []float32) string
}

// Phrase spots a wake phrase by transcribing short voiced bursts. Frames
// are buffered while their energy is above Gate; a burst ends after
// Trailing of quiet and is transcribed if it is shorter than MaxBurst.
type Phrase struct {
	Phrases     []string
	Transcriber Transcriber
	Rate        int
	Frame       int
	Gate        float64
	Trailing    time.Duration
	MaxBurst    time.Duration
	Timeout     time.Duration

	burst []float32
	quiet int
}

func NewPhrase(phrases []string, tr Transcriber) *Phrase {
	return &Phrase{
		Phrases:     phrases,
		Transcriber: tr,
		Rate:        16000,
		Frame:       512,
		Gate:        0.02,
		Trailing:    400 * time.Millisecond,
		MaxBurst:    3 * time.Second,
		Timeout:     5 * time.Second,
	}
}

func (p *Phrase) FrameLength() int { return p.Frame }
func (p *Phrase) SampleRate() int  { return p.Rate }

func (p *Phrase) ProcessFrame(frame []int16) (int, error) {
	var sum float64
	for _, s := range frame {
		v := float64(s) / 32768
		sum += v * v
	}
	rms := 0.0
	if len(frame) > 0 {
		rms = math.Sqrt(sum / float64(len(frame)))
	}

	voiced := rms >= p.Gate
	if !voiced && len(p.burst) == 0 {
		return -1, nil
	}

	for _, s := range frame {
		p.burst = append(p.burst, float32(s)/32768)
	}
	if voiced {
		p.quiet = 0
	} else {
		p.quiet += len(frame)
	}

	maxBurst := int(p.MaxBurst.Seconds() * float64(p.Rate))
	if len(p.burst) > maxBurst {
		p.Reset()
		return -1, nil
	}
	if p.quiet < int(p.Trailing.Seconds()*float64(p.Rate)) {
		return -1, nil
	}

	pcm := p.burst
	p.Reset()

	ctx, cancel := context.WithTimeout(context.Background(), p.Timeout)
	defer cancel()
	return p.match(p.Transcriber.Transcribe(ctx, pcm)), nil
}

func (p *Phrase) match(text string) int {
	heard := normalize(text)
	if heard == "" {
		return -1
	}
	for i, phrase := range p.Phrases {
		if strings.Contains(heard, normalize(phrase)) {
			return i
		}
	}
	return -1
}

func normalize(s string) string {
	s = strings.Map(func(r rune) rune {
		if strings.ContainsRune(".,!?", r) {
			return ' '
		}
		return r
	}, strings.ToLower(s))
	return strings.Join(strings.Fields(s), " ")
}

// Reset drops any partially buffered burst.
func (p *Phrase) Reset() {
	p.burst = nil
	p.quiet = 0
}
