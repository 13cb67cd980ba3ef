package hostboot

import (
	"io"
	"os"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// newLogger writes logfmt lines to the append-only log file of cfg, or to stderr when the file
// cannot be opened.
func newLogger(cfg Config) (log.Logger, io.Closer) {
	var logger log.Logger
	var closer io.Closer = nopCloser{}
	var openErr error
	if cfg.Logger != nil {
		logger = cfg.Logger
	} else {
		f, err := os.OpenFile(cfg.logPath(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			openErr = err
			logger = log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
		} else {
			logger = log.NewLogfmtLogger(log.NewSyncWriter(f))
			closer = f
		}
		logger = log.With(logger, "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller)
	}
	if cfg.Debug {
		logger = level.NewFilter(logger, level.AllowDebug())
	} else {
		logger = level.NewFilter(logger, level.AllowInfo())
	}
	if openErr != nil {
		level.Warn(logger).Log("msg", "cannot open log file, logging to stderr", "file", cfg.logPath(), "err", openErr)
	}
	return logger, closer
}
