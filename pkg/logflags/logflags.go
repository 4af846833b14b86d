package logflags

import (
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
)

var gdbWire = false
var stub = false
var inferior = false
var config = false

var logOut io.WriteCloser

func makeLogger(level logrus.Level, fields Fields) Logger {
	if lf := loggerFactory; lf != nil {
		return lf(level, fields, logOut)
	}
	logger := logrus.New().WithFields(logrus.Fields(fields))
	logger.Logger.Formatter = textFormatterInstance
	if logOut != nil {
		logger.Logger.Out = logOut
	} else {
		logger.Logger.Out = colorable.NewColorableStderr()
	}
	logger.Logger.Level = level
	return &logrusLogger{logger}
}

func makeFlaggableLogger(flag bool, fields Fields) Logger {
	if flag {
		return makeLogger(logrus.DebugLevel, fields)
	}
	return makeLogger(logrus.ErrorLevel, fields)
}

// GdbWire returns true if the gdbstub package should log all the packets
// exchanged with the debugger.
func GdbWire() bool {
	return gdbWire
}

// GdbWireLogger returns a configured logger for the wire protocol.
func GdbWireLogger() Logger {
	return makeFlaggableLogger(gdbWire, Fields{"layer": "gdbwire"})
}

// Stub returns true if session lifecycle events should be logged.
func Stub() bool {
	return stub
}

// StubLogger returns a logger for sessions, negotiation and stop events.
func StubLogger() Logger {
	return makeFlaggableLogger(stub, Fields{"layer": "stub"})
}

// Inferior returns true if the simulated inferior should log.
func Inferior() bool {
	return inferior
}

// InferiorLogger returns a logger for the inferior layer.
func InferiorLogger() Logger {
	return makeFlaggableLogger(inferior, Fields{"layer": "inferior"})
}

// Config returns true if configuration loading should be logged.
func Config() bool {
	return config
}

// ConfigLogger returns a logger for the config package.
func ConfigLogger() Logger {
	return makeFlaggableLogger(config, Fields{"layer": "config"})
}

var errLogstrWithoutLog = errors.New("--log-output specified without --log")

// Setup sets the logging flags based on the contents of logstr.
// If logDest is not empty logs will be redirected to the file descriptor or
// file path specified by logDest.
func Setup(logFlag bool, logstr, logDest string) error {
	if logDest != "" {
		n, err := strconv.Atoi(logDest)
		if err == nil {
			logOut = os.NewFile(uintptr(n), "gdbstub-logs")
		} else {
			fh, err := os.Create(logDest)
			if err != nil {
				return fmt.Errorf("could not create log file: %v", err)
			}
			logOut = fh
		}
	}
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	if !logFlag {
		log.SetOutput(ioutil.Discard)
		if logstr != "" {
			return errLogstrWithoutLog
		}
		return nil
	}
	if logstr == "" {
		logstr = "stub"
	}
	v := strings.Split(logstr, ",")
	for _, logcmd := range v {
		switch logcmd {
		case "gdbwire":
			gdbWire = true
		case "stub":
			stub = true
		case "inferior":
			inferior = true
		case "config":
			config = true
		}
	}
	textFormatterInstance.DisableColors = !colorOutput()
	return nil
}

func colorOutput() bool {
	if logOut != nil {
		f, ok := logOut.(*os.File)
		return ok && isatty.IsTerminal(f.Fd())
	}
	return isatty.IsTerminal(os.Stderr.Fd())
}

// Close closes the logger output.
func Close() {
	if logOut != nil {
		logOut.Close()
	}
}

var textFormatterInstance = &logrus.TextFormatter{
	FullTimestamp:   true,
	TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
}
