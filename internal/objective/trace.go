package objective

import (
	"sync"

	"go.uber.org/zap"

	"github.com/copyleftdev/yagiopt/internal/antenna"
)

// Sample is one scored candidate.
type Sample struct {
	Iteration int                    `json:"iteration"`
	Params    antenna.GeometryParams `json:"params"`
	Score     float64                `json:"score"`
}

// Trace is the append-only record of every simulated candidate of one run.
// It is safe for concurrent use.
type Trace struct {
	mu      sync.Mutex
	samples []Sample
}

func NewTrace() *Trace { return &Trace{} }

func (t *Trace) Append(s Sample) {
	t.mu.Lock()
	t.samples = append(t.samples, s)
	t.mu.Unlock()
}

// Samples returns a copy of the recorded samples in append order.
func (t *Trace) Samples() []Sample {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Sample(nil), t.samples...)
}

func (t *Trace) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.samples)
}

// Best returns the lowest scoring sample. Ties go to the earliest.
func (t *Trace) Best() (Sample, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.samples) == 0 {
		return Sample{}, false
	}
	best := t.samples[0]
	for _, s := range t.samples[1:] {
		if s.Score < best.Score {
			best = s
		}
	}
	return best, true
}

// Progress is reported after every simulated candidate.
type Progress struct {
	Iteration   int                    `json:"iteration"`
	ForwardGain float64                `json:"forward_gain"`
	ReverseGain float64                `json:"reverse_gain"`
	VSWR        float64                `json:"vswr"`
	Score       float64                `json:"score"`
	Params      antenna.GeometryParams `json:"params"`
}

// ProgressSink observes optimization progress. Observe is called from the
// search goroutines and must not block.
type ProgressSink interface {
	Observe(Progress)
}

// SinkFunc adapts a function to ProgressSink.
type SinkFunc func(Progress)

func (f SinkFunc) Observe(p Progress) { f(p) }

// ChannelSink forwards progress to a buffered channel, dropping updates
// when the reader falls behind.
type ChannelSink chan Progress

func (c ChannelSink) Observe(p Progress) {
	select {
	case c <- p:
	default:
	}
}

// LogSink writes every progress update at debug level.
type LogSink struct {
	Logger *zap.Logger
}

func (s LogSink) Observe(p Progress) {
	if s.Logger == nil {
		return
	}
	s.Logger.Debug("evaluation",
		zap.Int("iteration", p.Iteration),
		zap.Float64("forward_gain", p.ForwardGain),
		zap.Float64("reverse_gain", p.ReverseGain),
		zap.Float64("vswr", p.VSWR),
		zap.Float64("score", p.Score),
		zap.Stringer("params", p.Params),
	)
}

// MultiSink fans out to every non-nil sink in order.
type MultiSink []ProgressSink

func (m MultiSink) Observe(p Progress) {
	for _, s := range m {
		if s != nil {
			s.Observe(p)
		}
	}
}
