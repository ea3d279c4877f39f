package gnordofs

import "io"

// Option configures a mount at Mount time.
type Option func(*mountConfig) error

type mountConfig struct {
	readOnly bool
	traceOut io.Writer
}

// ReadOnly rejects any mutating operation on the mounted filesystem.
func ReadOnly() Option {
	return func(c *mountConfig) error {
		c.readOnly = true
		return nil
	}
}

// WithTrace directs the package's trace logger to w for the lifetime of
// the process; it is a process-wide setting, so mounting two images with
// different WithTrace values leaves the last one in effect.
func WithTrace(w io.Writer) Option {
	return func(c *mountConfig) error {
		c.traceOut = w
		return nil
	}
}
