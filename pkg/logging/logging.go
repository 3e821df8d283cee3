// Package logging builds the service logger. Messages are emitted as JSON
// lines to stdout and to a size-rotated log file.
package logging

import (
	"encoding/json"
	"io"
	"os"

	"github.com/Gobusters/ectologger"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options controls the file sink.
type Options struct {
	FilePath   string
	MaxSizeMB  int
	MaxBackups int
}

// New creates the logger and returns a closer for the file sink.
func New(opts Options) (ectologger.Logger, io.Closer) {
	rotator := &lumberjack.Logger{
		Filename:   opts.FilePath,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		Compress:   true,
	}
	sink := io.MultiWriter(os.Stdout, rotator)

	logger := ectologger.NewEctoLogger(func(msg ectologger.EctoLogMessage) {
		line, err := json.Marshal(msg)
		if err != nil {
			return
		}
		line = append(line, '\n')
		_, _ = sink.Write(line)
	})

	return logger, rotator
}
