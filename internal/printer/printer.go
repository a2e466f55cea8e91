// Package printer formats CLI output with colors.
package printer

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/fatih/color"

	"patchbay/internal/domain"
)

var (
	// Out receives regular output, Err receives errors
	Out io.Writer = os.Stdout
	Err io.Writer = os.Stderr

	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
	cyan   = color.New(color.FgCyan)
	faint  = color.New(color.Faint)
)

// Success prints a success message in green with a checkmark prefix
func Success(format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	if !strings.HasPrefix(msg, "✓") {
		msg = "✓ " + msg
	}
	green.Fprint(Out, msg)
}

// Info prints an informational message in the default color
func Info(format string, a ...any) {
	fmt.Fprintf(Out, format, a...)
}

// Warning prints a warning message in yellow
func Warning(format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	if !strings.HasPrefix(msg, "⚠") {
		msg = "⚠  " + msg
	}
	yellow.Fprint(Out, msg)
}

// Step prints a step message with emphasis
func Step(format string, a ...any) {
	cyan.Fprintf(Out, "→ %s", fmt.Sprintf(format, a...))
}

// Error prints a title, an explanation and suggestions to Err and returns
// an error carrying only the title, for Cobra with SilenceErrors set
func Error(title string, explanation string, suggestions []string) error {
	red.Fprintf(Err, "%s\n\n", title)
	if explanation != "" {
		fmt.Fprintf(Err, "%s\n", explanation)
	}

	if len(suggestions) > 0 {
		fmt.Fprintf(Err, "\n")
		if len(suggestions) == 1 {
			fmt.Fprintf(Err, "%s\n", suggestions[0])
		} else {
			fmt.Fprintf(Err, "Either:\n")
			for i, suggestion := range suggestions {
				fmt.Fprintf(Err, "  %d. %s\n", i+1, suggestion)
			}
		}
	}

	return fmt.Errorf("%s", title)
}

// Delta prints one model change: appearances in green, disappearances in red
func Delta(d domain.Delta) {
	c := red
	sign := "-"
	if d.Kind.Appeared() {
		c = green
		sign = "+"
	}

	var what string
	switch {
	case d.Module != nil:
		what = fmt.Sprintf("module #%d %s", d.Module.ID, d.Module)
	case d.Port != nil:
		what = fmt.Sprintf("port   #%d %s", d.Port.ID, d.Port)
	case d.Connection != nil:
		what = fmt.Sprintf("link   %s", d.Connection)
	default:
		what = string(d.Kind)
	}
	c.Fprintf(Out, "%s %s\n", sign, what)
}

// Graph prints modules with their ports and outgoing connections, in the
// manner of aconnect -l
func Graph(g *domain.Graph) {
	sorted := domain.Graph{
		Modules:     append([]domain.Module(nil), g.Modules...),
		Ports:       append([]domain.Port(nil), g.Ports...),
		Connections: append([]domain.Connection(nil), g.Connections...),
	}
	sorted.Sort()

	targets := make(map[domain.PortID][]string)
	for _, c := range sorted.Connections {
		targets[c.Source] = append(targets[c.Source], c.DestAddr.String())
	}

	for _, m := range sorted.Modules {
		cyan.Fprintf(Out, "client %d: '%s'", m.Client, m.Name)
		faint.Fprintf(Out, " [%s, module #%d]\n", m.Type, m.ID)
		for _, p := range sorted.PortsOf(m.ID) {
			arrow := "<-"
			if p.Direction == domain.DirectionOutput {
				arrow = "->"
			}
			fmt.Fprintf(Out, "    %3d %s '%s'", p.Address.Port, arrow, p.Name)
			faint.Fprintf(Out, " #%d\n", p.ID)
			if dests := targets[p.ID]; len(dests) > 0 {
				sort.Strings(dests)
				fmt.Fprintf(Out, "\tConnecting To: %s\n", strings.Join(dests, ", "))
			}
		}
	}
}
