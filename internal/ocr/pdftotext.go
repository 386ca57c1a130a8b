package ocr

import (
	"bytes"
	"context"
	"os/exec"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// PdfToText runs the poppler pdftotext binary with the document on stdin.
type PdfToText struct {
	binPath  string
	maxPages int
}

// NewPdfToText returns a local extractor. An empty binPath means
// "pdftotext" on PATH; maxPages <= 0 reads every page.
func NewPdfToText(binPath string, maxPages int) *PdfToText {
	if binPath == "" {
		binPath = "pdftotext"
	}
	return &PdfToText{binPath: binPath, maxPages: maxPages}
}

func (p *PdfToText) args() []string {
	args := []string{"-layout", "-enc", "UTF-8", "-nopgbrk"}
	if p.maxPages > 0 {
		args = append(args, "-f", "1", "-l", strconv.Itoa(p.maxPages))
	}
	return append(args, "-", "-")
}

// ExtractText implements Extractor.
func (p *PdfToText) ExtractText(ctx context.Context, pdf []byte) (string, error) {
	var out, errOut bytes.Buffer
	cmd := exec.CommandContext(ctx, p.binPath, p.args()...)
	cmd.Stdin = bytes.NewReader(pdf)
	cmd.Stdout = &out
	cmd.Stderr = &errOut

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", eris.Wrap(ctx.Err(), "ocr: pdftotext interrupted")
		}
		return "", eris.Wrapf(err, "ocr: pdftotext: %s", strings.TrimSpace(errOut.String()))
	}
	return out.String(), nil
}
