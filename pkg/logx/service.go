package logx

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

const (
	timeFormat      = "2006-01-02T15:04:05.000Z07:00"
	defaultFilePath = "./trustchain.log"
)

type Config struct {
	Level   string
	Console bool
	File    FileConfig
}

type FileConfig struct {
	Enabled bool
	Path    string
}

// ParseLevel accepts zerolog level names plus "warning". Empty means info.
func ParseLevel(s string) (Level, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "":
		return zerolog.InfoLevel, nil
	case "warning":
		return zerolog.WarnLevel, nil
	}
	lvl, err := zerolog.ParseLevel(s)
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel, fmt.Errorf("logx: unknown level %q", s)
	}
	return lvl, nil
}

var globals sync.Once

// Service owns the sinks behind every Logger it hands out. Apply swaps them
// in place, so loggers taken before a reload follow it.
type Service struct {
	mu   sync.Mutex
	file *os.File
	root atomic.Pointer[zerolog.Logger]
}

// New applies cfg and returns the service with its root logger. A sink that
// cannot be opened is reported through the returned logger and skipped.
func New(cfg Config) (*Service, Logger) {
	globals.Do(func() {
		zerolog.ErrorFieldName = "err"
		zerolog.TimeFieldFormat = timeFormat
	})

	s := &Service{}
	log := Logger{svc: s}
	if err := s.Apply(cfg); err != nil {
		log.Warn("logging config partly applied", Err(err))
	}
	return s, log
}

func (s *Service) current() *zerolog.Logger {
	if zl := s.root.Load(); zl != nil {
		return zl
	}
	return &nop
}

// Apply rebuilds the sinks from cfg. On error the sinks that could be opened
// are installed anyway and console output stands in for a missing file.
func (s *Service) Apply(cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lvl, lerr := ParseLevel(cfg.Level)

	var writers []io.Writer
	if cfg.Console {
		writers = append(writers, console(os.Stdout))
	}
	var (
		file *os.File
		ferr error
	)
	if cfg.File.Enabled {
		path := strings.TrimSpace(cfg.File.Path)
		if path == "" {
			path = defaultFilePath
		}
		file, ferr = os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if ferr != nil {
			ferr = fmt.Errorf("logx: open %s: %w", path, ferr)
		} else {
			writers = append(writers, zerolog.SyncWriter(file))
		}
	}
	if len(writers) == 0 {
		writers = append(writers, console(os.Stdout))
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(writers...)).Level(lvl).With().Timestamp().Logger()
	s.root.Store(&zl)

	old := s.file
	s.file = file
	if old != nil {
		_ = old.Close()
	}
	return errors.Join(lerr, ferr)
}

func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

// console renders chain fields right after the message, ahead of the rest.
func console(w io.Writer) io.Writer {
	return zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: timeFormat,
		PartsOrder: []string{
			zerolog.TimestampFieldName,
			zerolog.LevelFieldName,
			zerolog.CallerFieldName,
			zerolog.MessageFieldName,
			KeyBlock,
			KeyTask,
		},
		FieldsExclude: []string{KeyBlock, KeyTask},
		FormatCaller: func(i any) string {
			s, _ := i.(string)
			return s
		},
		FormatPartValueByName: func(v any, name string) string {
			if v == nil {
				return ""
			}
			return fmt.Sprintf("%s=%v", name, v)
		},
	}
}
