package report

import (
	"fmt"
	"io"
)

// Printer receives the finished report for the operator-facing copy.
// The real receipt printer lives outside this subsystem; TextPrinter is
// the default sink.
type Printer interface {
	Print(r *TillReport) error
}

// TextPrinter writes a plain-text rendition of the report.
type TextPrinter struct {
	W io.Writer
}

// Print implements Printer.
func (p TextPrinter) Print(r *TillReport) error {
	_, err := fmt.Fprintf(p.W,
		"TILL CLOSE %s\nbranch:   %s\nopening:  %.2f\nclosing:  %.2f\nexpected: %.2f\nvariance: %+.2f\n",
		r.SessionID, r.BranchID, r.OpeningCash, r.ClosingCash, r.ExpectedCash, r.CashVariance)
	if err != nil {
		return fmt.Errorf("failed to print till report: %w", err)
	}
	for method, amount := range r.Payments {
		if _, err := fmt.Fprintf(p.W, "%-9s %.2f\n", method+":", amount); err != nil {
			return fmt.Errorf("failed to print till report: %w", err)
		}
	}
	return nil
}

// Discard drops reports. Used when no printer is attached.
type Discard struct{}

// Print implements Printer.
func (Discard) Print(*TillReport) error { return nil }
