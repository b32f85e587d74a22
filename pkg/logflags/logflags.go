// Package logflags configures the trace logging of the DWARF decoding
// layers. Logging is off by default; Setup enables it per layer.
package logflags

import (
	"errors"
	"io/ioutil"
	"log"
	"strings"

	"github.com/sirupsen/logrus"
)

var frame = false
var expr = false
var cfa = false

func makeLogger(flag bool, fields logrus.Fields) *logrus.Entry {
	logger := logrus.New().WithFields(fields)
	logger.Logger.Level = logrus.DebugLevel
	if !flag {
		logger.Logger.Level = logrus.PanicLevel
	}
	return logger
}

// Frame returns true if the call-frame interpreter should log the
// instructions it executes.
func Frame() bool {
	return frame
}

// FrameLogger returns a logger for the call-frame interpreter.
func FrameLogger() *logrus.Entry {
	return makeLogger(frame, logrus.Fields{"layer": "frame"})
}

// Expr returns true if location expression decoding should be logged.
func Expr() bool {
	return expr
}

// ExprLogger returns a logger for the expression decoder.
func ExprLogger() *logrus.Entry {
	return makeLogger(expr, logrus.Fields{"layer": "op"})
}

// CFA returns true if the CFA rewriter should log the edge graphs it
// builds.
func CFA() bool {
	return cfa
}

// CFALogger returns a logger for the CFA rewriter.
func CFALogger() *logrus.Entry {
	return makeLogger(cfa, logrus.Fields{"layer": "cfa"})
}

var errLogstrWithoutLog = errors.New("log output specified with logging disabled")

// Setup sets trace flags based on the contents of logstr, a comma
// separated list of layer names.
func Setup(logFlag bool, logstr string) error {
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	if !logFlag {
		log.SetOutput(ioutil.Discard)
		if logstr != "" {
			return errLogstrWithoutLog
		}
		return nil
	}
	if logstr == "" {
		logstr = "frame"
	}
	for _, logcmd := range strings.Split(logstr, ",") {
		switch logcmd {
		case "frame":
			frame = true
		case "expr":
			expr = true
		case "cfa":
			cfa = true
		}
	}
	return nil
}
