// Package errs implements the error handler shared by every compile stage
// (parser, validator, generator) and by the engine facade around them.
//
// A Handler accumulates diagnostics with source locations instead of
// aborting the stage that raised them: a stage keeps walking so the caller
// sees every problem in one pass, and only fails at stage end if the error
// count is non-zero. Critical errors are the one exception — they abort
// immediately.
package errs

import (
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"
)

// Severity classifies a diagnostic.
type Severity int

const (
	SeverityWarning Severity = iota
	SeverityError
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Location identifies where a diagnostic originated. A nil-valued Location
// (zero Script) is permitted for pipeline-level messages that have no single
// source position.
type Location struct {
	Script string
	Line   int
	Column int
}

func (l Location) String() string {
	if l.Script == "" {
		return "<pipeline>"
	}
	return fmt.Sprintf("%s:%d:%d", l.Script, l.Line, l.Column)
}

// Diagnostic is one recorded message.
type Diagnostic struct {
	Severity Severity
	Location Location
	Message  string
}

// Critical is returned by Handler methods when a critical diagnostic was
// raised; callers must stop processing immediately on receiving it.
type Critical struct {
	Diagnostic Diagnostic
}

func (c *Critical) Error() string {
	return fmt.Sprintf("%s: %s", c.Diagnostic.Location, c.Diagnostic.Message)
}

// Handler collects diagnostics for one compile stage (or one pipeline run).
// It is not safe for concurrent use from multiple goroutines; each
// compilation owns its own Handler.
type Handler struct {
	MaxErrors int // cap on recorded errors; 0 means unlimited

	diagnostics  []Diagnostic
	errorCount   int
	warningCount int
	droppedCount int
	log          *zap.Logger
}

// New creates a Handler. log may be nil, in which case critical errors are
// not forwarded to a structured logger (they are still recorded and
// returned as a *Critical).
func New(maxErrors int, log *zap.Logger) *Handler {
	return &Handler{MaxErrors: maxErrors, log: log}
}

// Warning records a non-fatal diagnostic that never counts toward
// MaxErrors or fails a stage.
func (h *Handler) Warning(loc Location, format string, args ...any) {
	h.warningCount++
	h.diagnostics = append(h.diagnostics, Diagnostic{
		Severity: SeverityWarning,
		Location: loc,
		Message:  fmt.Sprintf(format, args...),
	})
}

// Error records a non-fatal error diagnostic. The stage should continue
// processing; it is the caller's responsibility to check ErrorCount() at
// stage end. Once MaxErrors is reached, further errors are counted in
// DroppedCount but not recorded.
func (h *Handler) Error(loc Location, format string, args ...any) {
	h.errorCount++
	if h.MaxErrors > 0 && len(h.diagnosticsOfSeverity(SeverityError)) >= h.MaxErrors {
		h.droppedCount++
		return
	}
	h.diagnostics = append(h.diagnostics, Diagnostic{
		Severity: SeverityError,
		Location: loc,
		Message:  fmt.Sprintf(format, args...),
	})
}

// Critical records a critical diagnostic and returns it as an error; the
// caller must abort the stage immediately rather than continue walking.
func (h *Handler) Critical(loc Location, format string, args ...any) error {
	d := Diagnostic{
		Severity: SeverityCritical,
		Location: loc,
		Message:  fmt.Sprintf(format, args...),
	}
	h.diagnostics = append(h.diagnostics, d)
	if h.log != nil {
		h.log.Error("sieve: critical diagnostic", zap.String("location", loc.String()), zap.String("message", d.Message))
	}
	return &Critical{Diagnostic: d}
}

func (h *Handler) diagnosticsOfSeverity(s Severity) []Diagnostic {
	var out []Diagnostic
	for _, d := range h.diagnostics {
		if d.Severity == s {
			out = append(out, d)
		}
	}
	return out
}

// ErrorCount returns the number of Error-severity diagnostics recorded,
// including ones dropped past MaxErrors.
func (h *Handler) ErrorCount() int { return h.errorCount }

// WarningCount returns the number of Warning-severity diagnostics recorded.
func (h *Handler) WarningCount() int { return h.warningCount }

// DroppedCount returns how many errors were silently dropped after
// MaxErrors was reached.
func (h *Handler) DroppedCount() int { return h.droppedCount }

// Diagnostics returns all recorded diagnostics in recording order.
func (h *Handler) Diagnostics() []Diagnostic {
	out := make([]Diagnostic, len(h.diagnostics))
	copy(out, h.diagnostics)
	return out
}

// OK reports whether the stage succeeded (no errors recorded; warnings are
// fine).
func (h *Handler) OK() bool { return h.errorCount == 0 }

// WriteReport writes a plain-text diagnostic report to w, one line per
// diagnostic, in the form "<severity> <location>: <message>".
func (h *Handler) WriteReport(w io.Writer) error {
	for _, d := range h.diagnostics {
		if _, err := fmt.Fprintf(w, "%s %s: %s\n", d.Severity, d.Location, d.Message); err != nil {
			return err
		}
	}
	if h.droppedCount > 0 {
		_, err := fmt.Fprintf(w, "(%d further error(s) suppressed past max_errors)\n", h.droppedCount)
		return err
	}
	return nil
}

// Markdown renders the diagnostics as a Markdown table, suitable for
// piping through a renderer such as glamour before printing to a terminal.
func (h *Handler) Markdown() string {
	if len(h.diagnostics) == 0 {
		return "_no diagnostics_\n"
	}
	var b strings.Builder
	b.WriteString("| severity | location | message |\n")
	b.WriteString("|---|---|---|\n")
	for _, d := range h.diagnostics {
		fmt.Fprintf(&b, "| %s | %s | %s |\n", d.Severity, d.Location, escapePipe(d.Message))
	}
	if h.droppedCount > 0 {
		fmt.Fprintf(&b, "\n_%d further error(s) suppressed past max_errors_\n", h.droppedCount)
	}
	return b.String()
}

func escapePipe(s string) string {
	return strings.ReplaceAll(s, "|", "\\|")
}
