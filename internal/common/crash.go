package common

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

// CrashLogDir is where crash reports are written. Set by InstallCrashHandler.
var CrashLogDir = "./logs"

// InstallCrashHandler points crash reports at logDir and makes sure it exists.
// Pair it with a deferred RecoverWithCrashFile at the top of main.
func InstallCrashHandler(logDir string) {
	if logDir != "" {
		CrashLogDir = logDir
	}
	if err := os.MkdirAll(CrashLogDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "CRASH: Failed to create log directory: %v\n", err)
	}
}

// WriteCrashFile writes a crash report for panicVal and returns its path, or "" when
// the file could not be written (the report then goes to stderr).
func WriteCrashFile(panicVal any, stackTrace string) string {
	now := time.Now()
	crashPath := filepath.Join(CrashLogDir, fmt.Sprintf("crash-%s.log", now.Format("2006-01-02T15-04-05")))

	var b strings.Builder
	section := func(title, body string) {
		fmt.Fprintf(&b, "=== %s ===\n%s\n\n", title, strings.TrimRight(body, "\n"))
	}

	b.WriteString("=== ENTITLE CRASH REPORT ===\n")
	fmt.Fprintf(&b, "Time: %s\nVersion: %s\n\n", now.Format(time.RFC3339), GetFullVersion())
	section("PANIC VALUE", fmt.Sprintf("%v", panicVal))
	section("STACK TRACE", stackTrace)
	section("RUNTIME", fmt.Sprintf("NumGoroutine: %d\nSafeGo spawned: %d\nNumCPU: %d\nGOOS/GOARCH: %s/%s",
		runtime.NumGoroutine(), GetGoroutineCount(), runtime.NumCPU(), runtime.GOOS, runtime.GOARCH))
	section("ALL GOROUTINES", GetAllGoroutineStacks())
	b.WriteString("=== END CRASH REPORT ===\n")
	report := b.String()

	if err := os.WriteFile(crashPath, []byte(report), 0644); err != nil {
		fmt.Fprintf(os.Stderr, "CRASH: Failed to write crash file: %v\n%s", err, report)
		return ""
	}

	fmt.Fprintf(os.Stderr, "\n!!! FATAL CRASH - Report saved to: %s !!!\nPanic: %v\n", crashPath, panicVal)
	return crashPath
}

// GetAllGoroutineStacks returns stack traces for all goroutines, growing the buffer up to 64MB.
func GetAllGoroutineStacks() string {
	size := 64 * 1024
	for {
		buf := make([]byte, size)
		n := runtime.Stack(buf, true)
		if n < size || size >= 64*1024*1024 {
			return string(buf[:n])
		}
		size *= 2
	}
}

// RecoverWithCrashFile writes a crash report and exits on panic.
// Usage: defer common.RecoverWithCrashFile()
func RecoverWithCrashFile() {
	if r := recover(); r != nil {
		WriteCrashFile(r, stack())
		os.Exit(1)
	}
}
