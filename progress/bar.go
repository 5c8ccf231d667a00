package progress

import (
	"fmt"
	"io"
	"os"

	"github.com/schollz/progressbar/v3"

	"github.com/utkarsh5026/procpool/pool"
)

// BarOption configures a Bar.
type BarOption func(*barConfig)

type barConfig struct {
	writer      io.Writer
	description string
	width       int
	elements    bool
}

// WithWriter sends the bar to w instead of stderr.
func WithWriter(w io.Writer) BarOption {
	return func(c *barConfig) { c.writer = w }
}

// WithDescription sets the text shown before the bar.
func WithDescription(s string) BarOption {
	return func(c *barConfig) { c.description = s }
}

// WithWidth sets the bar width in characters.
func WithWidth(n int) BarOption {
	return func(c *barConfig) {
		if n > 0 {
			c.width = n
		}
	}
}

// CountElements makes the bar advance per element instead of per chunk.
func CountElements() BarOption {
	return func(c *barConfig) { c.elements = true }
}

// Bar renders job progress on a terminal. It is sized when the job starts;
// jobs of unknown length get a spinner.
type Bar struct {
	cfg    barConfig
	bar    *progressbar.ProgressBar
	failed int
}

// NewBar creates a Bar. Attach it to a job with pool.WithProgress.
func NewBar(opts ...BarOption) *Bar {
	cfg := barConfig{
		writer:      os.Stderr,
		description: "Processing",
		width:       50,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Bar{cfg: cfg}
}

// JobStarted implements pool.ProgressStarter.
func (b *Bar) JobStarted(info pool.JobInfo) {
	total := info.Chunks
	if b.cfg.elements {
		total = info.Elements
	}
	if total < 0 {
		total = -1
	}
	b.failed = 0
	b.bar = progressbar.NewOptions(total,
		progressbar.OptionSetWriter(b.cfg.writer),
		progressbar.OptionSetDescription(b.cfg.description),
		progressbar.OptionSetWidth(b.cfg.width),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "│",
			BarEnd:        "│",
		}),
		progressbar.OptionEnableColorCodes(true),
	)
}

// ChunkDone implements pool.ProgressSink.
func (b *Bar) ChunkDone(ev pool.ChunkEvent) {
	if b.bar == nil {
		b.JobStarted(pool.JobInfo{Chunks: -1, Elements: -1})
	}
	if ev.Err != nil {
		b.failed++
		b.bar.Describe(fmt.Sprintf("%s (%d failed)", b.cfg.description, b.failed))
	}
	n := 1
	if b.cfg.elements {
		n = ev.Size
	}
	_ = b.bar.Add(n)
}

// JobFinished implements pool.ProgressFinisher.
func (b *Bar) JobFinished(err error) {
	if b.bar == nil {
		return
	}
	if err == nil {
		_ = b.bar.Finish()
	}
	_ = b.bar.Exit()
	_, _ = fmt.Fprintln(b.cfg.writer)
}

// Failed reports how many chunks of the last job failed.
func (b *Bar) Failed() int { return b.failed }
