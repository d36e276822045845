package logs

import (
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferFlushPublishesCompleteLines(t *testing.T) {
	t.Parallel()

	b := NewBuffer(100)
	b.Append([]byte("first line\nsecond line\npartial"))
	b.Flush(false)

	assert.Equal(t, "first line\nsecond line", b.VisibleLog())

	// The unterminated tail stays staged until it completes.
	b.Append([]byte(" now done\n"))
	b.Flush(false)
	assert.Equal(t, "first line\nsecond line\npartial now done", b.VisibleLog())
}

func TestBufferFinalFlushDrainsPartialLine(t *testing.T) {
	t.Parallel()

	b := NewBuffer(100)
	b.Append([]byte("no trailing newline"))
	b.Flush(true)
	assert.Equal(t, "no trailing newline", b.VisibleLog())
}

func TestBufferNoCompleteLineStaysStaged(t *testing.T) {
	t.Parallel()

	b := NewBuffer(100)
	b.Append([]byte("still typing"))
	b.Flush(false)
	assert.Equal(t, "", b.VisibleLog())
}

func TestBufferRingBound(t *testing.T) {
	t.Parallel()

	b := NewBuffer(5)
	var chunk strings.Builder
	for i := 1; i <= 12; i++ {
		fmt.Fprintf(&chunk, "line %d\n", i)
	}
	b.Append([]byte(chunk.String()))
	b.Flush(false)

	lines := strings.Split(b.VisibleLog(), "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, "line 8", lines[0])
	assert.Equal(t, "line 12", lines[4])
}

func TestBufferClassifiedEntriesTrimmed(t *testing.T) {
	t.Parallel()

	b := NewBuffer(10)
	var chunk strings.Builder
	for i := 0; i < classifiedCap+1; i++ {
		fmt.Fprintf(&chunk, "error %d\n", i)
	}
	b.Append([]byte(chunk.String()))
	b.Flush(false)

	errs := b.Errors()
	require.Len(t, errs, classifiedKeep)
	assert.Equal(t, fmt.Sprintf("error %d", classifiedCap), errs[len(errs)-1].Message)
}

func TestBufferClassifiesErrorsAndWarnings(t *testing.T) {
	t.Parallel()

	b := NewBuffer(100)
	b.Append([]byte("server ready\nerror: db unreachable\nwarning: slow query\n"))
	b.Flush(false)

	require.Len(t, b.Errors(), 1)
	require.Len(t, b.Warnings(), 1)
	assert.Equal(t, "error: db unreachable", b.Errors()[0].Message)
	assert.Equal(t, "warning: slow query", b.Warnings()[0].Message)
}

func TestBufferStackAttachedToLastError(t *testing.T) {
	t.Parallel()

	b := NewBuffer(100)
	b.Append([]byte("Error: boom\n    at handler (/srv/app.js:10:5)\n    at listen (/srv/app.js:2:1)\nok\n"))
	b.Flush(false)

	errs := b.Errors()
	require.Len(t, errs, 1)
	require.Len(t, errs[0].StackTrace, 2)
	assert.Equal(t, "at handler (/srv/app.js:10:5)", errs[0].StackTrace[0])
}

func TestBufferFinalFlushClosesDanglingStack(t *testing.T) {
	t.Parallel()

	b := NewBuffer(100)
	b.Append([]byte("Error: boom\n    at handler (/srv/app.js:10:5)\n"))
	b.Flush(false)
	require.Empty(t, b.Errors()[0].StackTrace)

	b.Flush(true)
	errs := b.Errors()
	require.Len(t, errs[0].StackTrace, 1)
}

func TestBufferSawAddrInUse(t *testing.T) {
	t.Parallel()

	b := NewBuffer(100)
	assert.False(t, b.SawAddrInUse())

	b.Append([]byte("Error: listen EADDRINUSE: address already in use :::3000\n"))
	b.Flush(false)
	assert.True(t, b.SawAddrInUse())
}

func TestBufferInvalidUTF8Dropped(t *testing.T) {
	t.Parallel()

	b := NewBuffer(100)
	b.Append([]byte{0xff, 0xfe, 0xfd})
	b.Flush(true)
	assert.Equal(t, "", b.VisibleLog())
}

func TestBufferAppendLineImmediate(t *testing.T) {
	t.Parallel()

	b := NewBuffer(100)
	b.AppendLine("[devsup] start aborted: port conflict")
	assert.Equal(t, "[devsup] start aborted: port conflict", b.VisibleLog())
}

func TestBufferPublishCallback(t *testing.T) {
	t.Parallel()

	b := NewBuffer(100)
	var calls atomic.Int32
	b.SetOnPublish(func() { calls.Add(1) })

	b.Append([]byte("one\n"))
	b.Flush(false)
	assert.Equal(t, int32(1), calls.Load())

	// Flushing with nothing staged publishes nothing.
	b.Flush(false)
	assert.Equal(t, int32(1), calls.Load())
}

func TestBufferReset(t *testing.T) {
	t.Parallel()

	b := NewBuffer(100)
	b.Append([]byte("error: old run\n"))
	b.Flush(false)
	require.NotEmpty(t, b.Errors())

	b.Reset()
	assert.Empty(t, b.Errors())
	assert.Empty(t, b.Warnings())
	assert.Equal(t, "", b.VisibleLog())
	assert.False(t, b.SawAddrInUse())

	// Line numbering restarts with the classifier.
	b.Append([]byte("error: new run\n"))
	b.Flush(false)
	require.Len(t, b.Errors(), 1)
	assert.Equal(t, 1, b.Errors()[0].LineNumber)
}

func TestBufferStartStopIdempotent(t *testing.T) {
	t.Parallel()

	b := NewBuffer(100)
	b.Start()
	b.Start()
	b.Append([]byte("tail without newline"))
	b.Stop()
	b.Stop()

	// Stop forces a final flush, so the tail is visible.
	assert.Equal(t, "tail without newline", b.VisibleLog())
}
