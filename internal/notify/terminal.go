package notify

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"
)

// TerminalNotifier prints notifications as single lines.
type TerminalNotifier struct {
	mu           sync.Mutex
	out          io.Writer
	colorEnabled bool
	bellEnabled  bool
}

// NewTerminalNotifier creates a notifier writing to out.
func NewTerminalNotifier(out io.Writer, colorEnabled bool) *TerminalNotifier {
	return &TerminalNotifier{out: out, colorEnabled: colorEnabled}
}

// SetBellEnabled rings the terminal bell on errors.
func (tn *TerminalNotifier) SetBellEnabled(enabled bool) {
	tn.mu.Lock()
	defer tn.mu.Unlock()
	tn.bellEnabled = enabled
}

// Notify writes n to the terminal.
func (tn *TerminalNotifier) Notify(n Notification) {
	tn.mu.Lock()
	defer tn.mu.Unlock()

	if tn.bellEnabled && n.Kind == KindError {
		fmt.Fprint(tn.out, "\a")
	}
	fmt.Fprintln(tn.out, FormatNotification(n, tn.colorEnabled))
}

// FormatNotification renders n as "[15:04:05] KIND | SYMBOL | message".
func FormatNotification(n Notification, colorEnabled bool) string {
	var sb strings.Builder

	label := strings.ToUpper(string(n.Kind))
	prefix := fmt.Sprintf("[%s] %-7s", n.Timestamp.Format("15:04:05"), label)
	if colorEnabled {
		prefix = kindColor(n.Kind).Sprint(prefix)
	}
	sb.WriteString(prefix)

	if n.Symbol != "" {
		sb.WriteString(" | ")
		sb.WriteString(n.Symbol)
	}
	sb.WriteString(" | ")
	sb.WriteString(n.Message)
	return sb.String()
}

func kindColor(k Kind) *color.Color {
	c := color.New(color.FgWhite)
	switch k {
	case KindSuccess:
		c = color.New(color.FgGreen)
	case KindWarning:
		c = color.New(color.FgYellow)
	case KindError:
		c = color.New(color.FgRed, color.Bold)
	case KindInfo:
		c = color.New(color.FgCyan)
	}
	// Honour the caller's choice even when stdout is not a TTY.
	c.EnableColor()
	return c
}
