package storage

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// NewProgressLogger returns an S3Options.ProgressCallback that logs at most
// twice a second per upload.
func NewProgressLogger(logger logrus.FieldLogger) func(key string, done, total int64) {
	var (
		mu      sync.Mutex
		lastLog = map[string]time.Time{}
	)
	return func(key string, done, total int64) {
		mu.Lock()
		defer mu.Unlock()

		now := time.Now()
		finished := total > 0 && done == total
		if now.Sub(lastLog[key]) < 500*time.Millisecond && done != 0 && !finished {
			return
		}
		lastLog[key] = now
		if finished {
			delete(lastLog, key)
		}

		entry := logger.WithField("key", key)
		if total == 0 {
			entry.Infof("upload progress: %s uploaded", formatBytes(done))
			return
		}
		percent := float64(done) / float64(total) * 100
		entry.Infof("upload progress: %.1f%% (%s/%s)", percent, formatBytes(done), formatBytes(total))
	}
}

func formatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%dB", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%ciB",
		float64(b)/float64(div),
		"KMGTPE"[exp],
	)
}
