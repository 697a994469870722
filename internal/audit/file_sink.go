package audit

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// FileConfig configures the rotating audit file.
type FileConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// FileSink appends entries as JSON lines to a size-rotated file.
type FileSink struct {
	logger  *zap.Logger
	rotator *lumberjack.Logger
}

// NewFileSink opens a rotating audit file.
func NewFileSink(cfg FileConfig) (*FileSink, error) {
	if cfg.Path == "" {
		return nil, errors.New("audit file path is required")
	}
	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = 100
	}

	rotator := &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:     "logged_at",
		MessageKey:  "message",
		LineEnding:  zapcore.DefaultLineEnding,
		EncodeTime:  zapcore.ISO8601TimeEncoder,
		EncodeLevel: zapcore.LowercaseLevelEncoder,
	}
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(rotator),
		zapcore.InfoLevel,
	)

	return &FileSink{logger: zap.New(core), rotator: rotator}, nil
}

func (s *FileSink) Emit(ctx context.Context, entry Entry) {
	if s == nil {
		return
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return
	}
	s.logger.Info("audit",
		zap.String("id", entry.ID),
		zap.String("action", entry.Action),
		zap.Bool("success", entry.Success),
		zap.Any("entry", json.RawMessage(payload)),
	)
}

// Close flushes and closes the file.
func (s *FileSink) Close() error {
	if s == nil {
		return nil
	}
	_ = s.logger.Sync()
	return s.rotator.Close()
}
