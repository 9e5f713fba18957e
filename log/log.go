package log

import (
	"path/filepath"
	"sync"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"github.com/sirupsen/logrus"

	"github.com/bytom/peggateway/config"
)

const (
	rotationTime = 24 * time.Hour
	maxAge       = 7 * 24 * time.Hour

	defaultModule = "general"
)

var defaultFormatter = &logrus.TextFormatter{DisableColors: true}

// InitLogFile sets the global level and routes every entry into a daily file
// named after its "module" field.
func InitLogFile(cfg *config.Config) error {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}

	logrus.SetLevel(level)
	logrus.AddHook(NewModuleHook(cfg.LogPath()))
	return nil
}

type ModuleHook struct {
	logPath string
	lock    sync.Mutex
	writers map[string]*rotatelogs.RotateLogs
}

func NewModuleHook(logPath string) *ModuleHook {
	return &ModuleHook{
		logPath: logPath,
		writers: make(map[string]*rotatelogs.RotateLogs),
	}
}

func (hook *ModuleHook) writer(module string) (*rotatelogs.RotateLogs, error) {
	if w, ok := hook.writers[module]; ok {
		return w, nil
	}

	logPath := filepath.Join(hook.logPath, module)
	w, err := rotatelogs.New(
		logPath+".%Y%m%d",
		rotatelogs.WithMaxAge(maxAge),
		rotatelogs.WithRotationTime(rotationTime),
	)
	if err != nil {
		return nil, err
	}

	hook.writers[module] = w
	return w, nil
}

func (hook *ModuleHook) Fire(entry *logrus.Entry) error {
	module := defaultModule
	if data, ok := entry.Data["module"].(string); ok && data != "" {
		module = data
	}

	msg, err := defaultFormatter.Format(entry)
	if err != nil {
		return err
	}

	hook.lock.Lock()
	defer hook.lock.Unlock()

	w, err := hook.writer(module)
	if err != nil {
		return err
	}

	_, err = w.Write(msg)
	return err
}

// Levels returns configured log levels.
func (hook *ModuleHook) Levels() []logrus.Level {
	return logrus.AllLevels
}
