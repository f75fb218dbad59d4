package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
)

// Setup points the standard logger at stderr and, when dir is set, also at a
// daily rotated file named <name>.YYYYMMDD.log. Files older than maxAge are
// pruned. The returned closer releases the file.
func Setup(dir, name string, maxAge time.Duration) (io.Closer, error) {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	if dir == "" {
		log.SetOutput(os.Stderr)
		return nopCloser{}, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}

	opts := []rotatelogs.Option{
		rotatelogs.WithLinkName(filepath.Join(dir, name+".log")),
		rotatelogs.WithRotationTime(24 * time.Hour),
	}
	if maxAge > 0 {
		opts = append(opts, rotatelogs.WithMaxAge(maxAge))
	}
	w, err := rotatelogs.New(filepath.Join(dir, name+".%Y%m%d.log"), opts...)
	if err != nil {
		return nil, fmt.Errorf("open rotating log: %w", err)
	}
	log.SetOutput(io.MultiWriter(os.Stderr, w))
	return w, nil
}

// Writer returns the writer the standard logger currently uses, for handing
// to gin's logger middleware.
func Writer() io.Writer {
	return log.Writer()
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
