package summarizer

import (
	"fmt"
	"strings"
	"time"
)

// MarkdownFormatter renders a Summary as a Markdown report.
type MarkdownFormatter struct {
	translate func(string) string
	version   string
}

// Option configures a MarkdownFormatter.
type Option func(*MarkdownFormatter)

// WithTranslator sets the function used to translate labels.
func WithTranslator(fn func(string) string) Option {
	return func(f *MarkdownFormatter) {
		f.translate = fn
	}
}

// WithVersion adds the avcpull version to the footer.
func WithVersion(version string) Option {
	return func(f *MarkdownFormatter) {
		f.version = version
	}
}

// NewMarkdownFormatter creates a MarkdownFormatter.
func NewMarkdownFormatter(opts ...Option) *MarkdownFormatter {
	f := &MarkdownFormatter{
		translate: func(s string) string { return s },
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Format implements the Formatter interface.
func (f *MarkdownFormatter) Format(s *Summary) string {
	t := f.translate
	var b strings.Builder

	fmt.Fprintf(&b, "# %s\n\n", t("Decode Summary"))
	fmt.Fprintf(&b, "%s: %s\n\n", t("Generated"), s.GeneratedAt.Format("2006-01-02 15:04:05"))

	// Results
	fmt.Fprintf(&b, "## %s\n\n", t("Results"))
	tableHeader(&b, t("Item"), t("Value"))
	row(&b, t("Sources"), fmt.Sprint(len(s.Sources)))
	row(&b, t("Failed Sources"), fmt.Sprint(s.FailedSources()))
	row(&b, t("Frames"), fmt.Sprint(s.TotalFrames()))
	row(&b, t("Dropped Frames"), fmt.Sprint(s.Dropped))
	row(&b, t("Elapsed"), formatElapsed(s.Elapsed))
	b.WriteString("\n")

	// Sources
	if len(s.Sources) > 0 {
		fmt.Fprintf(&b, "## %s\n\n", t("Sources"))
		tableHeader(&b, t("Source"), t("File"), t("Size"), t("Units"), t("Encoded"), t("Frames"), t("Skipped"), t("Status"))
		for _, src := range s.Sources {
			status := t("OK")
			if src.Failed() {
				status = t("Failed") + ": " + src.Error
			}
			row(&b,
				fmt.Sprint(src.ID),
				src.Path,
				fmt.Sprintf("%dx%d", src.Width, src.Height),
				fmt.Sprint(src.Units),
				formatBytes(src.Bytes),
				fmt.Sprint(src.Frames),
				fmt.Sprint(src.Skipped),
				status,
			)
		}
		b.WriteString("\n")
	}

	// Settings
	st := s.Settings
	fmt.Fprintf(&b, "## %s\n\n", t("Settings"))
	tableHeader(&b, t("Item"), t("Value"))
	row(&b, t("Max Sources"), fmt.Sprint(st.MaxSources))
	if st.QueueCapacity > 0 {
		row(&b, t("Queue Capacity"), fmt.Sprint(st.QueueCapacity))
	} else {
		row(&b, t("Queue Capacity"), t("Unbounded"))
	}
	row(&b, t("Backpressure"), st.Backpressure)
	row(&b, t("Pull Mode"), st.PullMode)
	row(&b, t("Eviction"), st.Eviction)
	row(&b, t("Timestamp Order"), st.TimestampOrder)
	if st.DecoderThreads > 0 {
		row(&b, t("Decoder Threads"), fmt.Sprint(st.DecoderThreads))
	} else {
		row(&b, t("Decoder Threads"), t("Auto"))
	}
	b.WriteString("\n")

	b.WriteString("---\n\n")
	if f.version != "" {
		fmt.Fprintf(&b, "%s avcpull %s\n", t("Generated by"), f.version)
	} else {
		fmt.Fprintf(&b, "%s avcpull\n", t("Generated by"))
	}

	return b.String()
}

func tableHeader(b *strings.Builder, cols ...string) {
	row(b, cols...)
	b.WriteString("|")
	for range cols {
		b.WriteString("---|")
	}
	b.WriteString("\n")
}

func row(b *strings.Builder, cells ...string) {
	b.WriteString("|")
	for _, c := range cells {
		b.WriteString(" ")
		b.WriteString(escapeCell(c))
		b.WriteString(" |")
	}
	b.WriteString("\n")
}

// escapeCell keeps a value inside one table cell.
func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.ReplaceAll(s, "\n", " ")
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit && exp < 2; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %cB", float64(n)/float64(div), "KMG"[exp])
}

func formatElapsed(d time.Duration) string {
	return fmt.Sprintf("%.2f s", d.Seconds())
}
