package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/spf13/cobra"
)

// ANSI styles used by the engine's output.
const (
	styleReset  = "\033[0m"
	styleRed    = "\033[31m"
	styleGreen  = "\033[32m"
	styleYellow = "\033[33m"
	styleCyan   = "\033[36m"
	styleBold   = "\033[1m"
	styleDim    = "\033[2m"
)

var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*m`)

// Output writes command results as styled text or as JSON with --json.
type Output struct {
	writer       io.Writer
	jsonMode     bool
	colorEnabled bool
}

// NewOutput creates the Output for cmd.
func NewOutput(cmd *cobra.Command) *Output {
	jsonMode, _ := cmd.Flags().GetBool("json")
	return &Output{
		writer:       cmd.OutOrStdout(),
		jsonMode:     jsonMode,
		colorEnabled: !jsonMode && isTerminal(),
	}
}

func isTerminal() bool {
	fileInfo, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return fileInfo.Mode()&os.ModeCharDevice != 0
}

// IsJSON reports whether --json was given.
func (o *Output) IsJSON() bool {
	return o.jsonMode
}

// JSON writes data as indented JSON.
func (o *Output) JSON(data interface{}) error {
	encoder := json.NewEncoder(o.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

func (o *Output) Println(args ...interface{}) {
	fmt.Fprintln(o.writer, args...)
}

func (o *Output) Printf(format string, args ...interface{}) {
	fmt.Fprintf(o.writer, format, args...)
}

// Success, Error, Warning, Info, Bold and Dim print one styled line.

func (o *Output) Success(format string, args ...interface{}) { o.line(styleGreen, format, args...) }
func (o *Output) Error(format string, args ...interface{}) { o.line(styleRed, format, args...) }
func (o *Output) Warning(format string, args ...interface{}) { o.line(styleYellow, format, args...) }
func (o *Output) Info(format string, args ...interface{}) { o.line(styleCyan, format, args...) }
func (o *Output) Bold(format string, args ...interface{}) { o.line(styleBold, format, args...) }
func (o *Output) Dim(format string, args ...interface{}) { o.line(styleDim, format, args...) }

func (o *Output) line(style, format string, args ...interface{}) {
	fmt.Fprintln(o.writer, o.styled(style, fmt.Sprintf(format, args...)))
}

func (o *Output) styled(style, text string) string {
	if !o.colorEnabled {
		return text
	}
	return style + text + styleReset
}

func (o *Output) Green(text string) string { return o.styled(styleGreen, text) }
func (o *Output) Red(text string) string { return o.styled(styleRed, text) }
func (o *Output) BoldText(text string) string { return o.styled(styleBold, text) }
func (o *Output) DimText(text string) string { return o.styled(styleDim, text) }

// SideColor colours BUY green and SELL red.
func (o *Output) SideColor(side string) string {
	switch side {
	case "BUY":
		return o.Green(side)
	case "SELL":
		return o.Red(side)
	}
	return side
}

// StateColor colours a final submission state. Intermediate states are yellow.
func (o *Output) StateColor(state string) string {
	switch state {
	case "Succeeded":
		return o.Green(state)
	case "Failed":
		return o.Red(state)
	}
	return o.styled(styleYellow, state)
}

// ChangeColor formats a price change with its sign, coloured by direction.
func (o *Output) ChangeColor(change float64) string {
	text := fmt.Sprintf("%+.2f", change)
	switch {
	case change > 0:
		return o.Green(text)
	case change < 0:
		return o.Red(text)
	}
	return text
}

// visibleWidth is the number of runes in s once styles are removed.
func visibleWidth(s string) int {
	return utf8.RuneCountInString(ansiPattern.ReplaceAllString(s, ""))
}

func padRight(s string, width int) string {
	if n := width - visibleWidth(s); n > 0 {
		return s + strings.Repeat(" ", n)
	}
	return s
}

// Table collects rows and prints them as aligned columns.
type Table struct {
	output  *Output
	headers []string
	rows    [][]string
}

// NewTable creates a table with the given column headers.
func NewTable(output *Output, headers ...string) *Table {
	return &Table{output: output, headers: headers}
}

// AddRow appends a row. Cells beyond the header count are ignored.
func (t *Table) AddRow(cells ...string) {
	t.rows = append(t.rows, cells)
}

// Render prints the header, a rule and every row.
func (t *Table) Render() {
	if len(t.headers) == 0 {
		return
	}

	widths := make([]int, len(t.headers))
	for _, row := range append([][]string{t.headers}, t.rows...) {
		for i := 0; i < len(row) && i < len(widths); i++ {
			if w := visibleWidth(row[i]); w > widths[i] {
				widths[i] = w
			}
		}
	}

	header := make([]string, len(t.headers))
	rule := make([]string, len(t.headers))
	for i, h := range t.headers {
		header[i] = t.output.BoldText(padRight(h, widths[i]))
		rule[i] = strings.Repeat("─", widths[i])
	}
	t.output.Println(strings.Join(header, "  "))
	t.output.Println(t.output.DimText(strings.Join(rule, "──")))

	for _, row := range t.rows {
		cells := make([]string, 0, len(widths))
		for i := 0; i < len(row) && i < len(widths); i++ {
			cells = append(cells, padRight(row[i], widths[i]))
		}
		t.output.Println(strings.Join(cells, "  "))
	}
}

// frame holds the characters used to draw a Box.
type frame struct {
	top, middle, bottom [2]string
	side                string
}

var (
	unicodeFrame = frame{
		top:    [2]string{"┌", "┐"},
		middle: [2]string{"├", "┤"},
		bottom: [2]string{"└", "┘"},
		side:   "│",
	}
	asciiFrame = frame{
		top:    [2]string{"+", "+"},
		middle: [2]string{"+", "+"},
		bottom: [2]string{"+", "+"},
		side:   "|",
	}
)

// Box prints content inside a titled frame. Plain ASCII is used when
// colours are off so piped output stays readable.
func (o *Output) Box(title string, content []string) {
	f, hline := asciiFrame, "-"
	if o.colorEnabled {
		f, hline = unicodeFrame, "─"
	}

	inner := visibleWidth(title)
	for _, line := range content {
		if w := visibleWidth(line); w > inner {
			inner = w
		}
	}
	border := strings.Repeat(hline, inner+2)

	edge := func(corners [2]string) {
		o.Println(o.DimText(corners[0] + border + corners[1]))
	}
	row := func(text string) {
		side := o.DimText(f.side)
		o.Println(side + " " + padRight(text, inner) + " " + side)
	}

	edge(f.top)
	row(o.BoldText(title))
	edge(f.middle)
	for _, line := range content {
		row(line)
	}
	edge(f.bottom)
}
