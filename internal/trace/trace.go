// Package trace holds the package-wide debug logger for gnordofs.
//
// Every allocation decision and namei step can be traced through it,
// but it stays silent until a caller opts in: nothing is logged by
// default, and nothing is compiled out.
package trace

import (
	"io"

	"github.com/sirupsen/logrus"
)

// Log is the package-wide logger. It discards everything by default;
// call Enable to turn on tracing (e.g. from a CLI's -debug flag).
var Log = newSilentLogger()

func newSilentLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	l.SetLevel(logrus.TraceLevel)
	return l
}

// Enable routes trace output to w at the given level: Debug for
// surface-operation banners, Trace for chattier internal detail.
func Enable(w io.Writer, level logrus.Level) {
	Log.SetOutput(w)
	Log.SetLevel(level)
}
