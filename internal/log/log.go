// Package log holds the zerolog loggers used across the wallet.
package log

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

var Logger zerolog.Logger

// logFile is the file opened by Init, if any.
var logFile *os.File

// Component loggers.
var (
	Wallet  zerolog.Logger
	Updater zerolog.Logger
	Node    zerolog.Logger
	API     zerolog.Logger
)

func init() {
	Logger = NewConsoleLogger(os.Stderr, "info")
	initComponentLoggers()
}

// Init configures the global logger. With a file, records go to both the
// console and the file, the file always in JSON.
func Init(level string, jsonOutput bool, file string) error {
	var console io.Writer = os.Stderr
	if !jsonOutput {
		console = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	}

	var f *os.File
	if file != "" {
		var err error
		f, err = os.OpenFile(file, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return err
		}
		console = zerolog.MultiLevelWriter(console, f)
	}
	if logFile != nil {
		logFile.Close()
	}
	logFile = f

	Logger = zerolog.New(console).
		Level(ParseLevel(level)).
		With().
		Timestamp().
		Logger()

	initComponentLoggers()
	return nil
}

// Close releases the file opened by Init. Logging continues on the console.
func Close() error {
	if logFile == nil {
		return nil
	}
	f := logFile
	logFile = nil
	Logger = NewConsoleLogger(os.Stderr, Logger.GetLevel().String())
	initComponentLoggers()
	return f.Close()
}

// SetOutput sends all records to w as JSON.
func SetOutput(w io.Writer, level string) {
	Logger = zerolog.New(w).Level(ParseLevel(level)).With().Timestamp().Logger()
	initComponentLoggers()
}

func NewConsoleLogger(w io.Writer, level string) zerolog.Logger {
	output := zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: "15:04:05",
	}
	return zerolog.New(output).
		Level(ParseLevel(level)).
		With().
		Timestamp().
		Logger()
}

func ParseLevel(level string) zerolog.Level {
	switch level {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

func initComponentLoggers() {
	Wallet = Logger.With().Str("component", "wallet").Logger()
	Updater = Logger.With().Str("component", "updater").Logger()
	Node = Logger.With().Str("component", "node").Logger()
	API = Logger.With().Str("component", "api").Logger()
}
