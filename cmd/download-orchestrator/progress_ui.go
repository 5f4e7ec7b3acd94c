package main

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"golang.org/x/term"

	"github.com/vertextoedge/download-orchestrator/internal/domain"
)

// progressUI renders one bar per requested download plus an aggregate line.
// Without a terminal it prints one line per start and finish instead.
type progressUI struct {
	progress *mpb.Progress
	out      io.Writer
	tty      bool
	total    int

	mu      sync.Mutex
	bars    map[string]*fileBar
	summary *mpb.Bar
}

type fileBar struct {
	bar     *mpb.Bar
	index   int
	name    atomic.Value // string
	retries atomic.Int32
	done    bool
}

func (f *fileBar) label() string {
	name, _ := f.name.Load().(string)
	if n := f.retries.Load(); n > 0 {
		return fmt.Sprintf("%s (retry %d)", name, n)
	}
	return name
}

func newProgressUI(total int, aggregate func() domain.AggregateProgress, quiet bool) *progressUI {
	u := &progressUI{
		out:   os.Stderr,
		total: total,
		bars:  make(map[string]*fileBar),
	}
	u.tty = !quiet && term.IsTerminal(int(os.Stderr.Fd()))

	if !u.tty {
		u.progress = mpb.New(mpb.WithOutput(io.Discard))
		if quiet {
			u.out = io.Discard
		}
		return u
	}

	u.progress = mpb.New(
		mpb.WithOutput(os.Stderr),
		mpb.WithRefreshRate(200*time.Millisecond),
		mpb.WithWidth(40),
	)
	u.summary = u.progress.New(0, mpb.NopStyle(),
		mpb.PrependDecorators(
			decor.Any(func(decor.Statistics) string {
				return formatAggregate(aggregate())
			}),
		),
	)
	return u
}

func formatAggregate(agg domain.AggregateProgress) string {
	s := fmt.Sprintf("%d active  %s", agg.ActiveCount, humanize.IBytes(uint64(max(agg.BytesCompleted, 0))))
	if agg.BytesTotal > 0 {
		s += " / " + humanize.IBytes(uint64(agg.BytesTotal))
	}
	s += fmt.Sprintf("  %s/s", humanize.IBytes(uint64(max(agg.TotalThroughput, 0))))
	if agg.EstimatedTimeRemaining > 0 {
		s += "  ETA " + agg.EstimatedTimeRemaining.Round(time.Second).String()
	}
	return s
}

// start creates the bar for requestID, or marks a retry when it already exists
func (u *progressUI) start(requestID, name string) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if fb, ok := u.bars[requestID]; ok {
		if fb.done {
			return
		}
		n := fb.retries.Add(1)
		if !u.tty {
			fmt.Fprintf(u.out, "Retrying [%d/%d]: %s (attempt %d)\n", fb.index, u.total, name, n+1)
		}
		return
	}

	fb := &fileBar{index: len(u.bars) + 1}
	fb.name.Store(name)
	u.bars[requestID] = fb

	if !u.tty {
		fmt.Fprintf(u.out, "Downloading [%d/%d]: %s\n", fb.index, u.total, name)
		return
	}
	fb.bar = u.progress.New(0,
		mpb.BarStyle().Lbound("[").Filler("=").Tip(">").Padding("-").Rbound("]"),
		mpb.PrependDecorators(
			decor.Any(func(decor.Statistics) string { return fb.label() }, decor.WCSyncSpaceR),
		),
		mpb.AppendDecorators(
			decor.CountersKibiByte("% .1f / % .1f", decor.WCSyncSpace),
			decor.Percentage(decor.WCSyncSpace),
			decor.AverageSpeed(decor.SizeB1024(0), "% .1f", decor.WCSyncSpace),
		),
	)
}

// rename shows the resolved destination instead of the URL
func (u *progressUI) rename(requestID, name string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if fb, ok := u.bars[requestID]; ok {
		fb.name.Store(name)
	}
}

func (u *progressUI) update(requestID string, completed, total int64) {
	u.mu.Lock()
	fb, ok := u.bars[requestID]
	u.mu.Unlock()
	if !ok || fb.bar == nil {
		return
	}
	if total > 0 {
		fb.bar.SetTotal(total, false)
	}
	fb.bar.SetCurrent(completed)
}

// finish completes or aborts the bar for requestID; msg is printed without a terminal
func (u *progressUI) finish(requestID, msg string, err error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	fb, ok := u.bars[requestID]
	if !ok {
		fb = &fileBar{index: len(u.bars) + 1}
		fb.name.Store(msg)
		u.bars[requestID] = fb
	}
	if fb.done {
		return
	}
	fb.done = true

	if fb.bar != nil {
		if err != nil {
			fb.bar.Abort(false)
		} else {
			fb.bar.SetTotal(-1, true)
		}
	}
	if !u.tty {
		if err != nil {
			fmt.Fprintf(u.out, "Failed [%d/%d]: %s: %v\n", fb.index, u.total, msg, err)
		} else {
			fmt.Fprintf(u.out, "Done [%d/%d]: %s\n", fb.index, u.total, msg)
		}
	}
}

// Wait aborts unfinished bars and waits for the final render
func (u *progressUI) Wait() {
	u.mu.Lock()
	for _, fb := range u.bars {
		if !fb.done && fb.bar != nil {
			fb.bar.Abort(false)
		}
		fb.done = true
	}
	if u.summary != nil {
		u.summary.SetTotal(-1, true)
	}
	u.mu.Unlock()

	u.progress.Wait()
}
