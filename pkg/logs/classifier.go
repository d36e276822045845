package logs

import (
	"regexp"
	"strings"
	"time"

	"github.com/localserve/devsup/pkg/models"
)

// Keyword lists scanned against lowercased lines. Errors are checked
// before warnings; the first match wins and a line is never counted twice.
var errorKeywords = []string{
	"error",
	"fatal",
	"exception",
	"panic",
	"traceback",
	"eaddrinuse",
	"address already in use",
	"segmentation fault",
	"cannot",
	"not found",
	"invalid",
	"unable to",
	"failed",
	"refused",
	"denied",
}

var warningKeywords = []string{
	"warning",
	"warn",
	"deprecated",
	"should",
	"recommend",
	"consider",
}

var numberedFrameRe = regexp.MustCompile(`^\d+\s`)

// Classifier turns raw output lines into typed log entries, grouping
// stack-trace lines under the error entry that preceded them. It is a
// pure function of its input plus the collector state it carries.
type Classifier struct {
	lineNum    int
	collecting bool
	stack      []string
}

// Result is the outcome of classifying a single line.
type Result struct {
	// Entry is the newly classified entry, nil when the line was plain output.
	Entry *models.LogEntry
	// ClosedStack holds accumulated stack-trace lines when this line ended
	// collection. The caller attaches them to the most recent error entry.
	ClosedStack []string
}

// NewClassifier returns a classifier with a fresh line counter.
func NewClassifier() *Classifier {
	return &Classifier{}
}

// Classify processes one line of service output.
func (c *Classifier) Classify(line string) Result {
	c.lineNum++

	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return Result{}
	}

	if c.collecting {
		if isStackTraceLine(line, trimmed) {
			c.stack = append(c.stack, trimmed)
			return Result{}
		}
		closed := c.closeStack()
		res := c.classifyLine(line, trimmed)
		res.ClosedStack = closed
		return res
	}

	return c.classifyLine(line, trimmed)
}

// Close ends any in-progress stack-trace collection, returning the
// accumulated lines. Called when the stream ends.
func (c *Classifier) Close() []string {
	if !c.collecting {
		return nil
	}
	return c.closeStack()
}

// LineCount returns the number of lines seen this run.
func (c *Classifier) LineCount() int {
	return c.lineNum
}

func (c *Classifier) classifyLine(line, trimmed string) Result {
	lower := strings.ToLower(line)

	for _, kw := range errorKeywords {
		if strings.Contains(lower, kw) {
			c.collecting = true
			c.stack = nil
			return Result{Entry: &models.LogEntry{
				Message:    trimmed,
				LineNumber: c.lineNum,
				Timestamp:  time.Now(),
				Kind:       models.LogKindError,
			}}
		}
	}

	for _, kw := range warningKeywords {
		if strings.Contains(lower, kw) {
			return Result{Entry: &models.LogEntry{
				Message:    trimmed,
				LineNumber: c.lineNum,
				Timestamp:  time.Now(),
				Kind:       models.LogKindWarning,
			}}
		}
	}

	return Result{}
}

func (c *Classifier) closeStack() []string {
	closed := c.stack
	c.stack = nil
	c.collecting = false
	return closed
}

// isStackTraceLine recognizes the common shapes of stack frames:
// indented continuation lines, "at ..." (node), "File ..." (python),
// "func(args) file:line" patterns, and numbered frames.
func isStackTraceLine(line, trimmed string) bool {
	if strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t") {
		return true
	}
	if strings.HasPrefix(trimmed, "at ") || strings.HasPrefix(trimmed, "File ") {
		return true
	}
	if strings.Contains(trimmed, "(") && strings.Contains(trimmed, ")") && strings.Contains(trimmed, ":") {
		return true
	}
	return numberedFrameRe.MatchString(trimmed)
}
