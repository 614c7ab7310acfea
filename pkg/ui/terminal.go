package ui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// Logo printed before interactive commands
const Logo = `
  ┌────────────────────────────────────────────┐
  │  t w e e t d i g e s t                     │
  │  fetch · dedupe · summarize · publish      │
  └────────────────────────────────────────────┘
`

// Color functions for terminal output
var (
	Cyan    = colorize("\033[36m%s\033[0m")
	Yellow  = colorize("\033[33m%s\033[0m")
	Red     = colorize("\033[31m%s\033[0m")
	Green   = colorize("\033[32m%s\033[0m")
	Magenta = colorize("\033[35m%s\033[0m")
	Dim     = colorize("\033[2m%s\033[0m")
)

var (
	mu      sync.Mutex
	out     io.Writer = os.Stdout
	quiet   bool
	noColor bool
)

func colorize(colorString string) func(string) string {
	return func(text string) string {
		mu.Lock()
		plain := noColor
		mu.Unlock()
		if plain {
			return text
		}
		return fmt.Sprintf(colorString, text)
	}
}

// SetOutput redirects all printing. A nil writer restores stdout.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	if w == nil {
		w = os.Stdout
	}
	out = w
}

// SetQuietMode suppresses everything except errors
func SetQuietMode(q bool) {
	mu.Lock()
	defer mu.Unlock()
	quiet = q
}

// SetNoColor disables ANSI colors
func SetNoColor(v bool) {
	mu.Lock()
	defer mu.Unlock()
	noColor = v
}

func emit(always bool, s string) {
	mu.Lock()
	w, q := out, quiet
	mu.Unlock()
	if q && !always {
		return
	}
	fmt.Fprint(w, s)
}

// PrintLogo prints the logo
func PrintLogo() {
	emit(false, Cyan(Logo)+"\n")
}

// PrintError prints an error message in red. Shown in quiet mode too.
func PrintError(msg string, args ...interface{}) {
	if len(args) > 0 && fmt.Sprint(args[0]) != "" {
		msg = fmt.Sprintf("%s: %v", msg, args[0])
	}
	emit(true, Red(msg)+"\n")
}

// PrintSuccess prints a success message in green
func PrintSuccess(msg string) {
	emit(false, Green(msg)+"\n")
}

// PrintInfo prints a label and value
func PrintInfo(label string, value string) {
	emit(false, fmt.Sprintf("%s: %s\n", Cyan(label), Yellow(value)))
}

// PrintWarning prints a warning message in yellow
func PrintWarning(msg string, args ...interface{}) {
	if len(args) > 0 && fmt.Sprint(args[0]) != "" {
		msg = fmt.Sprintf("%s: %v", msg, args[0])
	}
	emit(false, Yellow(msg)+"\n")
}

// PrintHighlight prints a highlighted message in magenta
func PrintHighlight(msg string) {
	emit(false, Magenta(msg)+"\n")
}

// PrintText prints s as is
func PrintText(s string) {
	emit(false, s)
}

// Field is one labelled line of a summary table
type Field struct {
	Label string
	Value interface{}
}

// PrintFields prints a titled, aligned table of fields
func PrintFields(title string, fields []Field) {
	width := 0
	for _, f := range fields {
		if len(f.Label) > width {
			width = len(f.Label)
		}
	}
	var b strings.Builder
	b.WriteString(Magenta(title) + "\n")
	for _, f := range fields {
		pad := strings.Repeat(" ", width-len(f.Label))
		fmt.Fprintf(&b, "  %s%s  %s\n", Cyan(f.Label), pad, Yellow(fmt.Sprint(f.Value)))
	}
	emit(false, b.String())
}
