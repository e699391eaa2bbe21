package main

import (
	"os"

	"github.com/charmbracelet/glamour"

	"github.com/sievecore/sievecore/internal/sieve/errs"
)

// printDiagnostics renders a stage's diagnostics as the Markdown table
// errs.Handler.Markdown produces, piped through glamour the way its doc
// comment anticipates, and falls back to the handler's own plain-text
// report if the terminal renderer can't be built or fails to render.
func printDiagnostics(h *errs.Handler) {
	r, err := glamour.NewTermRenderer(glamour.WithAutoStyle())
	if err != nil {
		h.WriteReport(os.Stderr)
		return
	}
	out, err := r.Render(h.Markdown())
	if err != nil {
		h.WriteReport(os.Stderr)
		return
	}
	os.Stderr.WriteString(out)
}
