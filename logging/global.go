/*
Copyright © 2025 Jayson Grace <jayson.e.grace@gmail.com>

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in
all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
THE SOFTWARE.
*/

package logging

import (
	"log/slog"
	"sync"
)

var (
	globalMu     sync.RWMutex
	globalLogger = NewCustomLogger(slog.LevelInfo)
)

// Initialize replaces the process-wide logger. It is called once by the CLI
// after configuration has been resolved.
func Initialize(logLevel, logFormat string, quiet, verbose bool) error {
	l := NewCustomLoggerWithOptions(logLevel, logFormat, quiet, verbose)

	globalMu.Lock()
	globalLogger = l
	globalMu.Unlock()

	return nil
}

// Global returns the process-wide logger.
func Global() *CustomLogger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalLogger
}

// Debug logs a debug message on the global logger.
func Debug(message string, args ...interface{}) {
	Global().Debug(message, args...)
}

// Info logs an informational message on the global logger.
func Info(message string, args ...interface{}) {
	Global().Info(message, args...)
}

// Warn logs a warning on the global logger.
func Warn(message string, args ...interface{}) {
	Global().Warn(message, args...)
}

// Error logs an error on the global logger.
func Error(firstArg interface{}, args ...interface{}) {
	Global().Error(firstArg, args...)
}
