package storage

import (
	"bytes"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"go.trai.ch/zerr"

	"pushci/internal/logging"
	"pushci/pkg/utils"
)

var (
	// ErrLogNotFound is returned by Read when no log exists for the key.
	ErrLogNotFound = zerr.New("build log not found")

	// ErrInvalidKey is returned for keys that are not usable as file names.
	ErrInvalidKey = zerr.New("invalid log key")
)

// LogStorage keeps one log file per build under BaseDir, named by commit SHA.
type LogStorage struct {
	BaseDir string
	console *slog.Logger
}

// NewLogStorage creates a log storage rooted at baseDir. Every line appended to
// a build log is mirrored to console.
func NewLogStorage(baseDir string, console *slog.Logger) *LogStorage {
	return &LogStorage{BaseDir: baseDir, console: logging.Ensure(console)}
}

// Path returns the file a build log for key lives in.
func (ls *LogStorage) Path(key string) (string, error) {
	if !ValidKey(key) {
		return "", zerr.With(ErrInvalidKey, "key", key)
	}
	return filepath.Join(ls.BaseDir, key+".log"), nil
}

// OpenForBuild creates the log for one build, truncating any earlier log for
// the same commit.
func (ls *LogStorage) OpenForBuild(sha string) (*BuildLog, error) {
	path, err := ls.Path(sha)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(ls.BaseDir, 0o775); err != nil {
		return nil, zerr.Wrap(err, "create log directory")
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, zerr.With(zerr.Wrap(err, "create build log"), "path", path)
	}
	return &BuildLog{
		file:    f,
		path:    path,
		console: ls.console.With("commit", utils.ShortSHA(sha)),
	}, nil
}

// ConsoleLog returns a sink that only mirrors to the console. It stands in for
// a build log whose file could not be created.
func (ls *LogStorage) ConsoleLog(sha string) *BuildLog {
	return &BuildLog{console: ls.console.With("commit", utils.ShortSHA(sha))}
}

// Read returns the raw text accumulated for a build.
func (ls *LogStorage) Read(sha string) ([]byte, error) {
	path, err := ls.Path(sha)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrLogNotFound
	}
	if err != nil {
		return nil, zerr.With(zerr.Wrap(err, "read build log"), "path", path)
	}
	return data, nil
}

// BuildLog is the append-only sink of a single build. Writes go straight to the
// file, so whatever has been appended is visible to readers immediately.
type BuildLog struct {
	mu      sync.Mutex
	file    *os.File
	path    string
	console *slog.Logger
	partial []byte
}

// Append writes one line to the build log and mirrors it to the console.
func (l *BuildLog) Append(line string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.appendLocked(line)
}

func (l *BuildLog) appendLocked(line string) {
	l.console.Info(line)
	if l.file == nil {
		return
	}
	if _, err := l.file.WriteString(line + "\n"); err != nil {
		l.console.Error("could not write to log file", "path", l.path, "error", err)
	}
}

// Write accepts streamed command output and appends it line by line. A trailing
// fragment is held back until its newline arrives or Flush is called.
func (l *BuildLog) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.partial = append(l.partial, p...)
	for {
		i := bytes.IndexByte(l.partial, '\n')
		if i < 0 {
			break
		}
		line := bytes.TrimSuffix(l.partial[:i], []byte("\r"))
		l.appendLocked(string(line))
		l.partial = l.partial[i+1:]
	}
	return len(p), nil
}

// Flush appends any held-back fragment as a line of its own.
func (l *BuildLog) Flush() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.partial) > 0 {
		l.appendLocked(string(l.partial))
		l.partial = nil
	}
}

// Path is the backing file, empty for a console-only log.
func (l *BuildLog) Path() string {
	return l.path
}

// Close flushes and releases the file. The log stays on disk.
func (l *BuildLog) Close() error {
	l.Flush()
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

// ValidKey accepts only characters safe for a file name, which keeps a key
// taken from a URL from escaping BaseDir.
func ValidKey(key string) bool {
	if key == "" || len(key) > 128 {
		return false
	}
	for _, r := range key {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '-' || r == '_' {
			continue
		}
		return false
	}
	return true
}
