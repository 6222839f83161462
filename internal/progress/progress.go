// Package progress draws terminal progress for long-running embedding work.
package progress

import (
	"io"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"
)

var theme = progressbar.Theme{
	Saucer:        "=",
	SaucerHead:    ">",
	SaucerPadding: " ",
	BarStart:      "[",
	BarEnd:        "]",
}

// Bar counts completed steps. A disabled Bar does nothing, so callers can
// install it unconditionally.
type Bar struct {
	enabled bool
	w       io.Writer
	desc    string
	bar     *progressbar.ProgressBar
}

// New returns a bar that draws on stderr when enabled.
func New(enabled bool, desc string) *Bar {
	return NewWithWriter(enabled, desc, os.Stderr)
}

func NewWithWriter(enabled bool, desc string, w io.Writer) *Bar {
	return &Bar{enabled: enabled, w: w, desc: desc}
}

func (b *Bar) Start(total int) {
	if !b.enabled || total <= 0 {
		return
	}
	b.bar = progressbar.NewOptions(total,
		progressbar.OptionSetWriter(b.w),
		progressbar.OptionSetDescription(b.desc),
		progressbar.OptionSetWidth(32),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetTheme(theme),
	)
}

func (b *Bar) Increment() {
	if b.bar == nil {
		return
	}
	_ = b.bar.Add(1)
}

func (b *Bar) Finish() {
	if b.bar == nil {
		return
	}
	_ = b.bar.Finish()
	b.bar = nil
}

// DefaultEnabled reports whether stderr is a terminal.
func DefaultEnabled() bool {
	return term.IsTerminal(int(os.Stderr.Fd()))
}

// StartSpinner shows an indeterminate spinner on stderr until the returned
// func is called.
func StartSpinner(enabled bool, desc string) func() {
	return StartSpinnerWithWriter(enabled, desc, os.Stderr)
}

// StartSpinnerWithWriter is StartSpinner drawing to w.
func StartSpinnerWithWriter(enabled bool, desc string, w io.Writer) func() {
	if !enabled {
		return func() {}
	}
	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSpinnerType(9),
		progressbar.OptionSetDescription(desc),
		progressbar.OptionSetWidth(10),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetTheme(theme),
	)

	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		ticker := time.NewTicker(120 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				_ = bar.Add(1)
			case <-done:
				_ = bar.Finish()
				return
			}
		}
	}()
	return func() {
		close(done)
		<-stopped
	}
}
