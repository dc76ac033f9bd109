// Package logging provides config-driven categorized file-based logging.
// Logs are written to .rubricsync/logs/ with separate files per category.
// Logging is controlled by logging.debug_mode in .rubricsync/config.yaml;
// when false, every call is a silent no-op.
package logging

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Category represents a log category/subsystem.
type Category string

const (
	CategoryBoot     Category = "boot"     // Startup and wiring
	CategorySession  Category = "session"  // Browser attach, tab lookup
	CategoryDetect   Category = "detect"   // Layout detection
	CategoryExtract  Category = "extract"  // Hierarchical extraction, cache
	CategoryClient   Category = "client"   // Auth/session client, rate limits
	CategoryStream   Category = "stream"   // Decision stream consumption
	CategoryPipeline Category = "pipeline" // Grading pipeline orchestration
	CategoryOverlay  Category = "overlay"  // Suggestion overlays, indicators
)

// loggingConfig mirrors config.LoggingConfig to avoid a circular import.
type loggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Categories map[string]bool `yaml:"categories"`
	Level      string          `yaml:"level"`
}

type configFile struct {
	Logging loggingConfig `yaml:"logging"`
}

// Logger wraps a standard logger with category and file output.
type Logger struct {
	category Category
	logger   *log.Logger
	file     *os.File
}

var (
	loggers   = make(map[Category]*Logger)
	loggersMu sync.RWMutex
	logsDir   string
	workspace string
	config    loggingConfig
	configMu  sync.RWMutex
	logLevel  int
)

// Log levels.
const (
	LevelDebug = 0
	LevelInfo  = 1
	LevelWarn  = 2
	LevelError = 3
)

// Initialize sets up the logging directory and loads config. Call once at
// startup with the workspace path.
func Initialize(ws string) error {
	if ws == "" {
		return fmt.Errorf("workspace path required")
	}

	workspace = ws
	logsDir = filepath.Join(workspace, ".rubricsync", "logs")

	if err := loadConfig(); err != nil {
		fmt.Fprintf(os.Stderr, "[logging] Warning: could not load config: %v\n", err)
		config.DebugMode = false
	}

	if !config.DebugMode {
		return nil // Silent no-op in production mode
	}

	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}

	boot := Get(CategoryBoot)
	boot.Info("=== rubricsync logging initialized ===")
	boot.Info("Workspace: %s", workspace)
	boot.Info("Log level: %s", config.Level)
	return nil
}

func loadConfig() error {
	configMu.Lock()
	defer configMu.Unlock()

	configPath := filepath.Join(workspace, ".rubricsync", "config.yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			config.DebugMode = false
			return nil
		}
		return err
	}

	var cf configFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	config = cf.Logging

	switch config.Level {
	case "debug":
		logLevel = LevelDebug
	case "warn", "warning":
		logLevel = LevelWarn
	case "error":
		logLevel = LevelError
	default:
		logLevel = LevelInfo
	}
	return nil
}

// EnableForTest turns on debug logging to the given directory, bypassing
// config discovery. Test helper.
func EnableForTest(dir string) {
	configMu.Lock()
	config = loggingConfig{DebugMode: true, Level: "debug"}
	logLevel = LevelDebug
	configMu.Unlock()
	logsDir = dir
	_ = os.MkdirAll(dir, 0755)
}

// IsDebugMode returns whether debug logging is enabled.
func IsDebugMode() bool {
	configMu.RLock()
	defer configMu.RUnlock()
	return config.DebugMode
}

// IsCategoryEnabled returns whether a specific category is enabled.
func IsCategoryEnabled(category Category) bool {
	configMu.RLock()
	defer configMu.RUnlock()

	if !config.DebugMode {
		return false
	}
	if config.Categories == nil {
		return true
	}
	enabled, exists := config.Categories[string(category)]
	if !exists {
		return true
	}
	return enabled
}

// Get returns (or creates) a logger for the given category. Returns a
// no-op logger if debug mode or the category is disabled.
func Get(category Category) *Logger {
	if !IsCategoryEnabled(category) || logsDir == "" {
		return &Logger{category: category}
	}

	loggersMu.RLock()
	if l, ok := loggers[category]; ok {
		loggersMu.RUnlock()
		return l
	}
	loggersMu.RUnlock()

	loggersMu.Lock()
	defer loggersMu.Unlock()
	if l, ok := loggers[category]; ok {
		return l
	}

	date := time.Now().Format("2006-01-02")
	logPath := filepath.Join(logsDir, fmt.Sprintf("%s_%s.log", date, category))
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[logging] Warning: could not open log file %s: %v\n", logPath, err)
		return &Logger{category: category}
	}

	l := &Logger{
		category: category,
		file:     file,
		logger:   log.New(file, "", log.Ldate|log.Ltime|log.Lmicroseconds),
	}
	loggers[category] = l
	return l
}

// Debug logs a debug message.
func (l *Logger) Debug(format string, args ...interface{}) {
	if l.logger == nil || logLevel > LevelDebug {
		return
	}
	l.logger.Printf("[DEBUG] %s", fmt.Sprintf(format, args...))
}

// Info logs an informational message.
func (l *Logger) Info(format string, args ...interface{}) {
	if l.logger == nil || logLevel > LevelInfo {
		return
	}
	l.logger.Printf("[INFO] %s", fmt.Sprintf(format, args...))
}

// Warn logs a warning message.
func (l *Logger) Warn(format string, args ...interface{}) {
	if l.logger == nil || logLevel > LevelWarn {
		return
	}
	l.logger.Printf("[WARN] %s", fmt.Sprintf(format, args...))
}

// Error logs an error message (always written if the logger exists).
func (l *Logger) Error(format string, args ...interface{}) {
	if l.logger == nil {
		return
	}
	l.logger.Printf("[ERROR] %s", fmt.Sprintf(format, args...))
}

// CloseAll closes all open log files (call at shutdown).
func CloseAll() {
	loggersMu.Lock()
	defer loggersMu.Unlock()
	for _, l := range loggers {
		if l.file != nil {
			l.file.Close()
		}
	}
	loggers = make(map[Category]*Logger)
}

// Convenience functions; no-ops when the category is disabled.

func Boot(format string, args ...interface{}) { Get(CategoryBoot).Info(format, args...) }

func Session(format string, args ...interface{})      { Get(CategorySession).Info(format, args...) }
func SessionDebug(format string, args ...interface{}) { Get(CategorySession).Debug(format, args...) }
func SessionError(format string, args ...interface{}) { Get(CategorySession).Error(format, args...) }

func Detect(format string, args ...interface{})      { Get(CategoryDetect).Info(format, args...) }
func DetectDebug(format string, args ...interface{}) { Get(CategoryDetect).Debug(format, args...) }

func Extract(format string, args ...interface{})      { Get(CategoryExtract).Info(format, args...) }
func ExtractDebug(format string, args ...interface{}) { Get(CategoryExtract).Debug(format, args...) }
func ExtractWarn(format string, args ...interface{})  { Get(CategoryExtract).Warn(format, args...) }

func Client(format string, args ...interface{})      { Get(CategoryClient).Info(format, args...) }
func ClientDebug(format string, args ...interface{}) { Get(CategoryClient).Debug(format, args...) }
func ClientWarn(format string, args ...interface{})  { Get(CategoryClient).Warn(format, args...) }
func ClientError(format string, args ...interface{}) { Get(CategoryClient).Error(format, args...) }

func Stream(format string, args ...interface{})      { Get(CategoryStream).Info(format, args...) }
func StreamDebug(format string, args ...interface{}) { Get(CategoryStream).Debug(format, args...) }
func StreamError(format string, args ...interface{}) { Get(CategoryStream).Error(format, args...) }

func Pipeline(format string, args ...interface{})      { Get(CategoryPipeline).Info(format, args...) }
func PipelineDebug(format string, args ...interface{}) { Get(CategoryPipeline).Debug(format, args...) }
func PipelineWarn(format string, args ...interface{})  { Get(CategoryPipeline).Warn(format, args...) }
func PipelineError(format string, args ...interface{}) { Get(CategoryPipeline).Error(format, args...) }

func Overlay(format string, args ...interface{})      { Get(CategoryOverlay).Info(format, args...) }
func OverlayDebug(format string, args ...interface{}) { Get(CategoryOverlay).Debug(format, args...) }
func OverlayWarn(format string, args ...interface{})  { Get(CategoryOverlay).Warn(format, args...) }
