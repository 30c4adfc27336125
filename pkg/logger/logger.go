package logger

import "sync/atomic"

// LoggerInstance defines the interface for logging backends.
type LoggerInstance interface {
	Log(message string, keyvals ...any)
	Debug(message string, keyvals ...any)
	Info(message string, keyvals ...any)
	Warn(message string, keyvals ...any)
	Error(message string, keyvals ...any)
	Fatal(message string, keyvals ...any)
}

// Logger holds multiple logging backends and dispatches log calls to all of them.
type Logger struct {
	instances []LoggerInstance
}

var singleton atomic.Pointer[Logger]

// Init sets the process-wide logging backends. Calls made before Init are dropped.
func Init(instances ...LoggerInstance) {
	singleton.Store(&Logger{instances: instances})
}

func each(fn func(LoggerInstance)) {
	l := singleton.Load()
	if l == nil {
		return
	}
	for _, instance := range l.instances {
		fn(instance)
	}
}

// Log writes a message at the default log level to all configured backends.
func Log(message string, keyvals ...any) {
	each(func(i LoggerInstance) { i.Log(message, keyvals...) })
}

// Info writes a message at INFO level to all configured backends.
func Info(message string, keyvals ...any) {
	each(func(i LoggerInstance) { i.Info(message, keyvals...) })
}

// Warn writes a message at WARN level to all configured backends.
func Warn(message string, keyvals ...any) {
	each(func(i LoggerInstance) { i.Warn(message, keyvals...) })
}

// Error writes a message at ERROR level to all configured backends.
func Error(message string, keyvals ...any) {
	each(func(i LoggerInstance) { i.Error(message, keyvals...) })
}

// Debug writes a message at DEBUG level to all configured backends.
func Debug(message string, keyvals ...any) {
	each(func(i LoggerInstance) { i.Debug(message, keyvals...) })
}

// Fatal writes a message at FATAL level and terminates the program.
func Fatal(message string, keyvals ...any) {
	each(func(i LoggerInstance) { i.Fatal(message, keyvals...) })
}
