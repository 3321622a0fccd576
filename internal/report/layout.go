package report

import "github.com/signintech/gopdf"

const (
	fontFamily   = "DejaVu"
	pageMargin   = 40.0
	pageBottom   = 800.0
	contentWidth = 515.0

	titleSize   = 20
	headingSize = 14
	bodySize    = 11
	footerSize  = 9
)

// pageWriter writes lines top to bottom, starting a new page when the
// cursor passes the bottom margin. The first error sticks and later calls
// are skipped.
type pageWriter struct {
	pdf *gopdf.GoPdf
	err error
}

func (w *pageWriter) text(s string, size float64, advance float64) {
	if w.err != nil {
		return
	}
	if w.pdf.GetY()+advance > pageBottom {
		w.pdf.AddPage()
	}
	if w.err = w.pdf.SetFont(fontFamily, "", size); w.err != nil {
		return
	}
	if w.err = w.pdf.Cell(nil, s); w.err != nil {
		return
	}
	w.pdf.Br(advance)
}

func (w *pageWriter) heading(s string) {
	w.text(s, headingSize, 18)
}

func (w *pageWriter) wrapped(s string) {
	if w.err != nil {
		return
	}
	if w.err = w.pdf.SetFont(fontFamily, "", bodySize); w.err != nil {
		return
	}
	lines, err := w.pdf.SplitText(s, contentWidth)
	if err != nil {
		// unsplittable text still gets printed on one line
		lines = []string{s}
	}
	for _, l := range lines {
		w.text(l, bodySize, 14)
	}
}

func (w *pageWriter) list(label string, items []string) {
	if label != "" {
		w.wrapped(label + ":")
	}
	if len(items) == 0 {
		w.wrapped("  - None recorded.")
		return
	}
	for _, item := range items {
		w.wrapped("  - " + item)
	}
}

func (w *pageWriter) gap(h float64) {
	if w.err == nil {
		w.pdf.Br(h)
	}
}
