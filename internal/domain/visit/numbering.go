package visit

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

const dayStampLayout = "20060102"

// DayCounter hands out a strictly increasing sequence per calendar day. Each
// call must be atomic with respect to every other caller for the same day.
type DayCounter interface {
	Next(ctx context.Context, day string) (int64, error)
}

// DaySeeder returns the highest sequence already stored for day, or 0.
// Counters that can lose their state use it to resume past stored visits.
type DaySeeder func(ctx context.Context, day string) (int64, error)

// Numberer produces visit numbers of the form YYYYMMDD-NNNN.
type Numberer struct {
	counter DayCounter
	loc     *time.Location
	width   int
	now     func() time.Time
}

func NewNumberer(counter DayCounter, loc *time.Location, width int) *Numberer {
	if loc == nil {
		loc = time.UTC
	}
	if width <= 0 {
		width = 4
	}
	return &Numberer{counter: counter, loc: loc, width: width, now: time.Now}
}

// Next returns the next visit number for today.
func (n *Numberer) Next(ctx context.Context) (string, error) {
	day := n.now().In(n.loc).Format(dayStampLayout)
	seq, err := n.counter.Next(ctx, day)
	if err != nil {
		return "", fmt.Errorf("next visit sequence for %s: %w", day, err)
	}
	return FormatVisitNumber(day, seq, n.width), nil
}

// FormatVisitNumber zero-pads seq to width; longer sequences are kept whole.
func FormatVisitNumber(day string, seq int64, width int) string {
	return fmt.Sprintf("%s-%0*d", day, width, seq)
}

// sequenceOf extracts the sequence from a number issued for day.
func sequenceOf(number, day string) (int64, bool) {
	rest, ok := strings.CutPrefix(number, day+"-")
	if !ok {
		return 0, false
	}
	seq, err := strconv.ParseInt(rest, 10, 64)
	return seq, err == nil
}

// MemoryCounter is a process-local DayCounter.
type MemoryCounter struct {
	mu   sync.Mutex
	seqs map[string]int64
}

func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{seqs: make(map[string]int64)}
}

func (c *MemoryCounter) Next(_ context.Context, day string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seqs[day]++
	return c.seqs[day], nil
}
