package annotations

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// OutputFormatter renders events as one line each, colored on a terminal
type OutputFormatter struct {
	useColor bool
	writer   io.Writer
}

// NewOutputFormatter writes to w, or stderr when w is nil
func NewOutputFormatter(w io.Writer) *OutputFormatter {
	if w == nil {
		w = os.Stderr
	}

	useColor := false
	if f, ok := w.(*os.File); ok {
		useColor = isatty.IsTerminal(f.Fd())
	}

	return &OutputFormatter{
		useColor: useColor,
		writer:   w,
	}
}

// Handle prints an event; use it as a Handler
func (f *OutputFormatter) Handle(event Event) {
	output := f.Format(event)
	if output != "" {
		fmt.Fprintln(f.writer, output)
	}
}

// Format renders one event
func (f *OutputFormatter) Format(event Event) string {
	latency := f.formatLatency(event.Latency)
	d := event.Data

	switch event.Name {
	case HintParsed:
		return fmt.Sprintf("%s %s block %v: %v candidates",
			latency, f.colorize("parse", color.FgCyan), d["block"], d["count"])

	case HintSkipped:
		return fmt.Sprintf("%s %s block %v: skipped %q (%v)",
			latency, f.colorize("parse", color.FgYellow), d["block"], d["text"], d["reason"])

	case HintDropped:
		return fmt.Sprintf("%s %s block %v: %v hint %v dropped (%v)",
			latency, f.colorize("drop", color.FgYellow), d["block"], d["scope"], d["hint"], d["reason"])

	case HintResolved:
		return fmt.Sprintf("%s %s block %v %v: %v",
			latency, f.colorize("===", color.FgGreen), d["block"], d["scope"], d["hints"])

	case HintPropagated:
		return fmt.Sprintf("%s %s shape %v: %v derived blocks",
			latency, f.colorize("propagate", color.FgCyan), d["shape"], d["count"])

	case RecyclerHit:
		return fmt.Sprintf("%s %s %v key=%v device=%v",
			latency, f.colorize("hit", color.FgGreen), d["item"], d["key"], d["device"])

	case RecyclerMiss:
		return fmt.Sprintf("%s %s %v key=%v device=%v",
			latency, f.colorize("miss", color.FgYellow), d["item"], d["key"], d["device"])

	case RecyclerWait:
		return fmt.Sprintf("%s %s %v key=%v device=%v joined in-flight build",
			latency, f.colorize("wait", color.FgCyan), d["item"], d["key"], d["device"])

	case RecyclerBuild:
		return fmt.Sprintf("%s %s %v key=%v device=%v cached=%v",
			latency, f.colorize("build", color.FgMagenta), d["item"], d["key"], d["device"], d["cached"])

	case RecyclerBypass:
		return fmt.Sprintf("%s %s %v device=%v (%v)",
			latency, f.colorize("bypass", color.FgBlue), d["item"], d["device"], d["reason"])

	case RecyclerFailed:
		return fmt.Sprintf("%s %s %v key=%v device=%v: %v",
			latency, f.colorize("✗", color.FgRed), d["item"], d["key"], d["device"], d["error"])

	case RecyclerEvict:
		return fmt.Sprintf("%s %s device=%v removed %v entries",
			latency, f.colorize("evict", color.FgRed), d["device"], d["count"])

	default:
		return fmt.Sprintf("%s %s %v", latency, event.Name, d)
	}
}

// formatLatency formats a duration with appropriate units and color
func (f *OutputFormatter) formatLatency(d time.Duration) string {
	// Use microseconds for sub-millisecond durations
	if d < time.Millisecond {
		s := fmt.Sprintf("[%dµs]", d.Microseconds())
		if !f.useColor {
			return s
		}
		return color.GreenString(s)
	}

	ms := float64(d.Microseconds()) / 1000.0
	s := fmt.Sprintf("[%.1fms]", ms)

	if !f.useColor {
		return s
	}

	switch {
	case ms < 50:
		return color.GreenString(s)
	case ms < 200:
		return color.YellowString(s)
	default:
		return color.RedString(s)
	}
}

func (f *OutputFormatter) colorize(text string, attrs ...color.Attribute) string {
	if !f.useColor {
		return text
	}
	return color.New(attrs...).Sprint(text)
}

// ConsoleHandler returns a handler that prints events to stderr
func ConsoleHandler() Handler {
	return NewOutputFormatter(os.Stderr).Handle
}
