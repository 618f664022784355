// Package kv wraps the embedded badger store used for low latency state:
// the pending change queue, revoked sessions and single use challenges.
package kv

import (
	"fmt"

	"ethapplist/internal/logger"

	"github.com/dgraph-io/badger/v4"
	"github.com/pkg/errors"
	"github.com/robfig/cron"
)

type Store struct {
	DB   *badger.DB
	log  *logger.Logger
	cron *cron.Cron
}

// Open opens the store at path. An empty path keeps everything in memory.
func Open(path string, log *logger.Logger) (*Store, error) {
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.WithLogger(zapBadgerLogger{log: log}).
		WithValueLogFileSize(1024 * 1024 * 64)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrapf(err, "open badger at %q", path)
	}
	log.Info("Key/value store opened", "path", path, "in_memory", path == "")
	return &Store{DB: db, log: log}, nil
}

// StartGC schedules value log garbage collection.
func (s *Store) StartGC(schedule string) error {
	c := cron.New()
	if err := c.AddFunc(schedule, s.RunGC); err != nil {
		return errors.Wrapf(err, "gc schedule %q", schedule)
	}
	c.Start()
	s.cron = c
	s.log.Info("Key/value GC scheduled", "schedule", schedule)
	return nil
}

// RunGC rewrites value log files until badger reports nothing to reclaim.
func (s *Store) RunGC() {
	rewrites := 0
	for {
		err := s.DB.RunValueLogGC(0.5)
		if err == nil {
			rewrites++
			continue
		}
		if err != badger.ErrNoRewrite && err != badger.ErrGCInMemoryMode {
			s.log.Warn("Value log GC failed", "error", err)
		}
		break
	}
	if rewrites > 0 {
		s.log.Info("Value log GC finished", "rewrites", rewrites)
	}
}

func (s *Store) Close() error {
	if s.cron != nil {
		s.cron.Stop()
	}
	return s.DB.Close()
}

// zapBadgerLogger routes badger's internal logging through the service logger.
type zapBadgerLogger struct {
	log *logger.Logger
}

func (l zapBadgerLogger) Errorf(format string, args ...interface{}) {
	l.log.Error(fmt.Sprintf(format, args...), "component", "badger")
}

func (l zapBadgerLogger) Warningf(format string, args ...interface{}) {
	l.log.Warn(fmt.Sprintf(format, args...), "component", "badger")
}

func (l zapBadgerLogger) Infof(format string, args ...interface{}) {
	l.log.Debug(fmt.Sprintf(format, args...), "component", "badger")
}

func (l zapBadgerLogger) Debugf(format string, args ...interface{}) {
	l.log.Debug(fmt.Sprintf(format, args...), "component", "badger")
}
