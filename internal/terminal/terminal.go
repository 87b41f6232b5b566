// Package terminal provides a process-wide scoped resource over the
// controlling terminal (spec §4.2). Grounded on golang.org/x/term, which the
// retrieved pack converges on for exactly this job (other_examples'
// tinyrange-cc VM console attach path) rather than hand-rolled termios
// ioctls.
package terminal

import (
	"golang.org/x/term"

	"github.com/aegisorg/vm/internal/vmerrors"
)

// Controller enables and restores raw mode on a single file descriptor.
type Controller struct {
	fd       int
	oldState *term.State
}

// New returns a controller for fd (typically int(os.Stdin.Fd())).
func New(fd int) *Controller {
	return &Controller{fd: fd}
}

// IsTerminal reports whether fd refers to a terminal.
func (c *Controller) IsTerminal() bool {
	return term.IsTerminal(c.fd)
}

// EnableRawMode stores the prior terminal attributes and switches to raw
// mode: no echo, no canonical buffering, no signal generation on control
// characters, no software flow control, no CR↔NL translation, no output
// post-processing, 8-bit chars, MIN=1 TIME=0. term.MakeRaw implements
// exactly this set of changes.
func (c *Controller) EnableRawMode() error {
	old, err := term.MakeRaw(c.fd)
	if err != nil {
		return &vmerrors.TerminalError{Kind: vmerrors.FailedToSetAttributes, Err: err}
	}
	c.oldState = old
	return nil
}

// DisableRawMode restores the attributes saved by EnableRawMode. Safe to
// call even if EnableRawMode was never called or already undone.
func (c *Controller) DisableRawMode() error {
	if c.oldState == nil {
		return nil
	}
	old := c.oldState
	c.oldState = nil
	if err := term.Restore(c.fd, old); err != nil {
		return &vmerrors.TerminalError{Kind: vmerrors.FailedToSetAttributes, Err: err}
	}
	return nil
}

// WithRawMode enables raw mode, runs fn, and guarantees restoration on every
// exit path — including a panic inside fn, which is re-raised after the
// terminal is restored.
func WithRawMode(fd int, fn func() error) error {
	c := New(fd)
	if err := c.EnableRawMode(); err != nil {
		return err
	}
	defer c.DisableRawMode()

	var panicked any
	var fnErr error
	func() {
		defer func() {
			panicked = recover()
		}()
		fnErr = fn()
	}()

	if panicked != nil {
		c.DisableRawMode()
		panic(panicked)
	}
	return fnErr
}
