package cli

import (
	"io"
	"os"
	"sync"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"
)

// IndexProgress draws a progress bar for a folder build. Report matches
// indexer.ProgressFunc and may be called from several goroutines.
type IndexProgress struct {
	w       io.Writer
	enabled bool

	mu   sync.Mutex
	bar  *progressbar.ProgressBar
	done int
}

// NewIndexProgress returns a progress reporter writing to w. A disabled reporter
// draws nothing.
func NewIndexProgress(w io.Writer, enabled bool) *IndexProgress {
	return &IndexProgress{w: w, enabled: enabled}
}

// Report records that done of total images were processed.
func (p *IndexProgress) Report(done, total int) {
	if !p.enabled || total <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bar == nil {
		p.bar = progressbar.NewOptions(total,
			progressbar.OptionSetWriter(p.w),
			progressbar.OptionSetDescription("embedding"),
			progressbar.OptionSetWidth(32),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
			progressbar.OptionSetTheme(progressbar.Theme{
				Saucer:        "=",
				SaucerHead:    ">",
				SaucerPadding: " ",
				BarStart:      "[",
				BarEnd:        "]",
			}),
		)
	}
	// callbacks can arrive out of order; never move the bar backwards
	if done > p.done {
		p.done = done
		_ = p.bar.Set(done)
	}
}

// Finish completes and clears the bar.
func (p *IndexProgress) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bar == nil {
		return
	}
	_ = p.bar.Finish()
	p.bar = nil
	p.done = 0
}

// DefaultProgressEnabled reports whether stderr is a terminal.
func DefaultProgressEnabled() bool {
	return term.IsTerminal(int(os.Stderr.Fd()))
}
