package logs

import (
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/localserve/devsup/pkg/models"
)

const (
	// FlushInterval is how often staged output is classified and published.
	FlushInterval = 100 * time.Millisecond

	// Classified collections are bounded: once either collection passes
	// classifiedCap it is trimmed to the most recent classifiedKeep entries.
	classifiedCap  = 500
	classifiedKeep = 400
)

// Markers scanned per flushed chunk so a port conflict can be flagged
// without rescanning the whole buffer at termination time.
var addrInUseMarkers = []string{"eaddrinuse", "address already in use"}

// Buffer decouples high-frequency raw output arrival from classification
// cost and bounds memory. Raw chunks land in a staging accumulator;
// a periodic flush classifies complete lines and publishes the joined
// ring buffer as the visible log.
type Buffer struct {
	mu         sync.Mutex
	maxLines   int
	staging    strings.Builder
	lines      []string
	visible    string
	classifier *Classifier
	errors     []models.LogEntry
	warnings   []models.LogEntry
	sawAddr    bool

	ticker  *time.Ticker
	stopCh  chan struct{}
	stopped chan struct{}

	onPublish func()
}

// NewBuffer creates a buffer bounded to maxLines raw lines.
func NewBuffer(maxLines int) *Buffer {
	if maxLines <= 0 {
		maxLines = models.DefaultMaxLogLines
	}
	return &Buffer{
		maxLines:   maxLines,
		classifier: NewClassifier(),
	}
}

// SetOnPublish registers a callback invoked after each publish of a new
// visible-log snapshot. Set before Start; used by streaming consumers.
func (b *Buffer) SetOnPublish(fn func()) {
	b.mu.Lock()
	b.onPublish = fn
	b.mu.Unlock()
}

// Start begins the periodic flush timer. One timer per running service.
func (b *Buffer) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ticker != nil {
		return
	}
	b.ticker = time.NewTicker(FlushInterval)
	b.stopCh = make(chan struct{})
	b.stopped = make(chan struct{})
	go b.run(b.ticker, b.stopCh, b.stopped)
}

func (b *Buffer) run(ticker *time.Ticker, stopCh, stopped chan struct{}) {
	defer close(stopped)
	for {
		select {
		case <-ticker.C:
			b.Flush(false)
		case <-stopCh:
			return
		}
	}
}

// Stop cancels the flush timer and forces one final synchronous flush so
// no output is lost at process end.
func (b *Buffer) Stop() {
	b.mu.Lock()
	ticker, stopCh, stopped := b.ticker, b.stopCh, b.stopped
	b.ticker = nil
	b.stopCh = nil
	b.stopped = nil
	b.mu.Unlock()

	if ticker == nil {
		return
	}
	ticker.Stop()
	close(stopCh)
	<-stopped
	b.Flush(true)
}

// Append stages a raw output chunk. Classification happens at the next
// flush. Chunks that are not valid UTF-8 are dropped.
func (b *Buffer) Append(chunk []byte) {
	if len(chunk) == 0 || !utf8.Valid(chunk) {
		return
	}
	b.mu.Lock()
	b.staging.Write(chunk)
	b.mu.Unlock()
}

// Flush drains staged output, classifies complete lines, and republishes
// the visible log if anything new arrived. With final=true a trailing
// unterminated line is flushed as well.
func (b *Buffer) Flush(final bool) {
	b.mu.Lock()

	staged := b.staging.String()
	if staged == "" {
		cb := b.publishIfFinalLocked(final)
		b.mu.Unlock()
		if cb != nil {
			cb()
		}
		return
	}

	chunk := staged
	var remainder string
	if !final {
		idx := strings.LastIndexByte(staged, '\n')
		if idx < 0 {
			// No complete line yet; leave it staged.
			b.mu.Unlock()
			return
		}
		chunk = staged[:idx+1]
		remainder = staged[idx+1:]
	}
	b.staging.Reset()
	b.staging.WriteString(remainder)

	lower := strings.ToLower(chunk)
	for _, marker := range addrInUseMarkers {
		if strings.Contains(lower, marker) {
			b.sawAddr = true
			break
		}
	}

	added := false
	for _, line := range strings.Split(strings.TrimSuffix(chunk, "\n"), "\n") {
		b.ingestLocked(line)
		added = true
	}

	var cb func()
	if added {
		b.visible = strings.Join(b.lines, "\n")
		cb = b.onPublish
	}
	b.mu.Unlock()

	if cb != nil {
		cb()
	}
}

// publishIfFinalLocked closes a dangling stack trace on the final flush
// even when no new output was staged.
func (b *Buffer) publishIfFinalLocked(final bool) func() {
	if !final {
		return nil
	}
	if closed := b.classifier.Close(); len(closed) > 0 {
		b.attachStackLocked(closed)
		return b.onPublish
	}
	return nil
}

func (b *Buffer) ingestLocked(line string) {
	res := b.classifier.Classify(line)
	if len(res.ClosedStack) > 0 {
		b.attachStackLocked(res.ClosedStack)
	}
	if res.Entry != nil {
		switch res.Entry.Kind {
		case models.LogKindError:
			b.errors = appendCapped(b.errors, *res.Entry)
		case models.LogKindWarning:
			b.warnings = appendCapped(b.warnings, *res.Entry)
		}
	}

	b.lines = append(b.lines, line)
	if len(b.lines) > b.maxLines {
		b.lines = b.lines[len(b.lines)-b.maxLines:]
	}
}

// attachStackLocked attaches closed stack-trace lines to the most recent
// error entry.
func (b *Buffer) attachStackLocked(stack []string) {
	if len(b.errors) == 0 {
		return
	}
	b.errors[len(b.errors)-1].StackTrace = stack
}

func appendCapped(entries []models.LogEntry, e models.LogEntry) []models.LogEntry {
	entries = append(entries, e)
	if len(entries) > classifiedCap {
		entries = entries[len(entries)-classifiedKeep:]
	}
	return entries
}

// VisibleLog returns the current published log snapshot.
func (b *Buffer) VisibleLog() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.visible
}

// Errors returns a copy of the classified error entries.
func (b *Buffer) Errors() []models.LogEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	return copyEntries(b.errors)
}

// Warnings returns a copy of the classified warning entries.
func (b *Buffer) Warnings() []models.LogEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	return copyEntries(b.warnings)
}

// SawAddrInUse reports whether an "address already in use" marker was seen
// in any flushed chunk this run.
func (b *Buffer) SawAddrInUse() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sawAddr
}

// AppendLine ingests a line directly, bypassing the staging accumulator.
// Used for supervisor-generated messages that must be visible immediately.
func (b *Buffer) AppendLine(line string) {
	b.mu.Lock()
	b.ingestLocked(line)
	b.visible = strings.Join(b.lines, "\n")
	cb := b.onPublish
	b.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// Reset clears all runtime state for a new run.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.staging.Reset()
	b.lines = nil
	b.visible = ""
	b.errors = nil
	b.warnings = nil
	b.sawAddr = false
	b.classifier = NewClassifier()
}

func copyEntries(entries []models.LogEntry) []models.LogEntry {
	if len(entries) == 0 {
		return nil
	}
	out := make([]models.LogEntry, len(entries))
	copy(out, entries)
	return out
}
