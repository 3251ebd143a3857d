// Package prompt asks the operator to confirm a deployment and prints
// styled notices.
package prompt

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// ErrNotInteractive is returned when confirmation is needed but input is not
// a terminal.
var ErrNotInteractive = errors.New("input is not a terminal; pass --yes to deploy without confirmation")

// =============================================================================
// Confirmer
// =============================================================================

// Confirmer answers yes/no questions.
type Confirmer struct {
	in          io.Reader
	out         io.Writer
	assumeYes   bool
	interactive bool
}

// NewConfirmer creates a confirmer reading from in. With assumeYes every
// question is answered yes without reading input.
func NewConfirmer(in io.Reader, out io.Writer, assumeYes bool) *Confirmer {
	interactive := false
	if f, ok := in.(*os.File); ok {
		interactive = term.IsTerminal(int(f.Fd()))
	}
	return &Confirmer{in: in, out: out, assumeYes: assumeYes, interactive: interactive}
}

// Confirm asks question and reports whether the answer was yes. Anything
// other than y or yes declines.
func (c *Confirmer) Confirm(question string) (bool, error) {
	if c.assumeYes {
		fmt.Fprintf(c.out, "%s (Yes/No) yes\n", question)
		return true, nil
	}
	if !c.interactive {
		return false, ErrNotInteractive
	}

	fmt.Fprintf(c.out, "%s (Yes/No) ", question)
	line, err := bufio.NewReader(c.in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, fmt.Errorf("read answer: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}
