package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	fileMu sync.RWMutex
	file   io.Writer
)

// FileOptions configures a rotating log file written next to stdout.
// Sizes are in megabytes, ages in days.
type FileOptions struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// AddFile tees loggers created afterwards into a rotating file. The returned
// closer detaches and closes the file.
func AddFile(o FileOptions) (io.Closer, error) {
	if o.Path == "" {
		return nil, fmt.Errorf("log file path is empty")
	}
	if dir := filepath.Dir(o.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	lj := &lumberjack.Logger{
		Filename:   o.Path,
		MaxSize:    o.MaxSizeMB,
		MaxBackups: o.MaxBackups,
		MaxAge:     o.MaxAgeDays,
		Compress:   o.Compress,
	}
	fileMu.Lock()
	file = lj
	fileMu.Unlock()
	return detach{lj}, nil
}

type detach struct{ lj *lumberjack.Logger }

func (d detach) Close() error {
	fileMu.Lock()
	if file == io.Writer(d.lj) {
		file = nil
	}
	fileMu.Unlock()
	return d.lj.Close()
}

func fileWriter() io.Writer {
	fileMu.RLock()
	defer fileMu.RUnlock()
	return file
}
