package engine

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

// Progress receives per-file transfer updates.
type Progress interface {
	// Start is called once the size is known. total is -1 when the server did not say;
	// initial is the number of bytes already on disk.
	Start(name string, total, initial int64)
	Add(n int64)
	Done(ok bool)
}

// NopProgress discards updates.
type NopProgress struct{}

func (NopProgress) Start(string, int64, int64) {}
func (NopProgress) Add(int64)                  {}
func (NopProgress) Done(bool)                  {}

// Bar renders a single-line progress bar, redrawn at most every interval.
type Bar struct {
	out      io.Writer
	interval time.Duration

	mu         sync.Mutex
	name       string
	total      int64
	initial    int64
	current    int64
	startedAt  time.Time
	lastRender time.Time
}

func NewBar(out io.Writer) *Bar {
	return &Bar{out: out, interval: 250 * time.Millisecond}
}

func (b *Bar) Start(name string, total, initial int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.name = name
	b.total = total
	b.initial = initial
	b.current = initial
	b.startedAt = time.Now()
	b.lastRender = time.Time{}
	b.render(false)
}

func (b *Bar) Add(n int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.current += n
	if time.Since(b.lastRender) >= b.interval {
		b.render(false)
	}
}

func (b *Bar) Done(ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ok {
		b.render(true)
	}
	fmt.Fprintln(b.out)
}

func (b *Bar) render(final bool) {
	b.lastRender = time.Now()

	elapsed := time.Since(b.startedAt)
	seconds := elapsed.Seconds()
	if seconds < 0.1 {
		seconds = 0.1
	}
	speed := float64(b.current-b.initial) / seconds

	if b.total <= 0 {
		fmt.Fprintf(b.out, "\r%s | %s | %s/s      ",
			b.name, humanize.IBytes(uint64(b.current)), humanize.IBytes(uint64(speed)))
		return
	}

	percent := float64(b.current) / float64(b.total) * 100
	if percent > 100 {
		percent = 100
	}

	etaStr := "calc..."
	timeLabel := "ETA"
	if final {
		timeLabel = "Time"
		etaStr = elapsed.Truncate(time.Second).String()
	} else if speed > 0 {
		remaining := float64(b.total - b.current)
		eta := time.Duration(remaining / speed * float64(time.Second))
		etaStr = eta.Truncate(time.Second).String()
	}

	// [====>     ]
	const barWidth = 20
	completedWidth := int(percent / 100 * barWidth)
	bar := strings.Repeat("=", completedWidth)
	if completedWidth < barWidth {
		bar += ">" + strings.Repeat(" ", barWidth-completedWidth-1)
	}

	fmt.Fprintf(b.out, "\r%s [%s] %5.1f%% | %s/%s | %s/s | %s: %-7s      ",
		b.name, bar, percent,
		humanize.IBytes(uint64(b.current)), humanize.IBytes(uint64(b.total)),
		humanize.IBytes(uint64(speed)), timeLabel, etaStr)
}
