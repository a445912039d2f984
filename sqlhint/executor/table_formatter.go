package executor

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/renderer"
	"github.com/olekukonko/tablewriter/tw"
	"github.com/wbrown/janus-recycler/sqlhint/propagator"
	"github.com/wbrown/janus-recycler/sqlhint/recycler"
	"github.com/wbrown/janus-recycler/sqlhint/resolver"
)

// TableFormatter renders hint state and recycler contents as markdown tables
type TableFormatter struct {
	// MaxWidth is the maximum width for a column
	MaxWidth int
	// TruncateString is the string to append when truncating
	TruncateString string
}

// NewTableFormatter creates a new table formatter with default settings
func NewTableFormatter() *TableFormatter {
	return &TableFormatter{
		MaxWidth:       60,
		TruncateString: "...",
	}
}

// FormatHints lists every final block with its local and effective hints,
// followed by the statement's global set
func (tf *TableFormatter) FormatHints(h *propagator.Hints) string {
	blocks := h.Blocks()
	if len(blocks) == 0 {
		return "_No blocks_"
	}

	rows := make([][]string, len(blocks))
	for i, id := range blocks {
		local, _ := h.Block(id)
		rows[i] = []string{
			id.String(),
			h.Label(id),
			tf.truncate(local.String()),
			tf.truncate(h.Effective(id).String()),
		}
	}

	sb := &strings.Builder{}
	sb.WriteString(tf.formatTable([]string{"block", "label", "local", "effective"}, rows))
	fmt.Fprintf(sb, "\n_global: %s_\n", h.Global())
	return sb.String()
}

// FormatResolution lists what happened to every directive of one block:
// registered, dropped with a reason, or skipped by the parser
func (tf *TableFormatter) FormatResolution(res resolver.BlockResolution) string {
	var rows [][]string
	for _, scoped := range []struct {
		scope string
		res   resolver.Resolution
	}{{"local", res.Local}, {"global", res.Global}} {
		for _, s := range scoped.res.Hints.Strings() {
			rows = append(rows, []string{scoped.scope, s, "registered", ""})
		}
		for _, d := range scoped.res.Dropped {
			rows = append(rows, []string{scoped.scope, d.Candidate.String(), string(d.Reason), tf.truncate(d.Detail)})
		}
	}
	for _, s := range res.Parsed.Skipped {
		rows = append(rows, []string{"-", s.Text, "skipped", string(s.Reason)})
	}
	if len(rows) == 0 {
		return "_No directives_"
	}
	return tf.formatTable([]string{"scope", "hint", "outcome", "detail"}, rows)
}

// FormatEntries lists cached entries with their sizes and build-time hints
func (tf *TableFormatter) FormatEntries(entries []recycler.Entry) string {
	if len(entries) == 0 {
		return "_No cached hash tables_"
	}

	rows := make([][]string, len(entries))
	for i, e := range entries {
		rows[i] = []string{
			e.Key.Hash.String(),
			e.Key.Device.String(),
			e.Key.Item.String(),
			humanize.IBytes(uint64(e.Artifact.MemoryFootprint())),
			tf.truncate(e.Hints.String()),
			e.BuiltAt.Format(time.RFC3339),
		}
	}

	sb := &strings.Builder{}
	sb.WriteString(tf.formatTable([]string{"key", "device", "item", "size", "hints", "built"}, rows))
	fmt.Fprintf(sb, "\n_%d entries_\n", len(entries))
	return sb.String()
}

// FormatStats renders the recycler counters
func (tf *TableFormatter) FormatStats(s recycler.Stats) string {
	counters := []struct {
		name  string
		value int64
	}{
		{"hits", s.Hits},
		{"misses", s.Misses},
		{"waits", s.Waits},
		{"builds", s.Builds},
		{"bypasses", s.Bypasses},
		{"failures", s.Failures},
		{"evictions", s.Evictions},
	}
	rows := make([][]string, len(counters))
	for i, c := range counters {
		rows[i] = []string{c.name, humanize.Comma(c.value)}
	}
	return tf.formatTable([]string{"counter", "value"}, rows)
}

// formatTable formats headers and rows as a markdown table
func (tf *TableFormatter) formatTable(headers []string, rows [][]string) string {
	tableString := &strings.Builder{}

	alignment := make([]tw.Align, len(headers))
	for i := range alignment {
		alignment[i] = tw.AlignNone
	}

	table := tablewriter.NewTable(tableString,
		tablewriter.WithRenderer(renderer.NewMarkdown()),
		tablewriter.WithAlignment(alignment),
		tablewriter.WithHeaderAutoFormat(tw.Off),
	)

	table.Header(headers)
	for _, row := range rows {
		table.Append(row)
	}
	table.Render()

	return tableString.String()
}

func (tf *TableFormatter) truncate(s string) string {
	if tf.MaxWidth <= 0 || len(s) <= tf.MaxWidth {
		return s
	}
	cut := tf.MaxWidth - len(tf.TruncateString)
	if cut < 0 {
		cut = 0
	}
	return s[:cut] + tf.TruncateString
}
