package log

// Package log provides a very small opinionated wrapper around Go's standard
// library logging facilities. Its goal is to offer a consistent way to emit
// logs per service / source while keeping migration friction low.
//
// Key Features
//
//   - Per service / source loggers via ForService(name)
//   - Automatic prefix in every line: `[name]`  (example: `[levilamina] package indexed`)
//   - Convenience level helpers: Infof, Warnf, Errorf, Debugf
//   - Debug logging can be enabled globally (SetGlobalDebug) or per service
//     (EnableDebugFor / DisableDebugFor)
//   - Uses the standard library *log.Logger* under the hood (no external deps)
//   - Central output writer (SetOutput) that updates existing loggers
//
// Non‑Goals (for now)
//
//   - Full-featured leveled logging framework
//   - Structured / JSON logging
//   - Log sampling, rotation, or asynchronous buffering
//
// These can be added later if explicitly requested. Keeping the surface minimal
// simplifies the incremental refactor away from directly using the stdlib log
// package across the codebase.
//
// Basic Usage
//
//	import (
//		"github.com/LipPkg/LipIndex/pkg/log"
//	)
//
//	func main() {
//		// Enable global debug logs if desired.
//		log.SetGlobalDebug(true)
//
//		// Acquire a logger for a source/service.
//		lvl := log.ForService("levilamina")
//
//		lvl.Infof("starting fetch cycle")
//		lvl.Warnf("rate limit near exhaustion")
//		lvl.Debugf("detailed payload: %v", "...") // printed because global debug enabled
//	}
//
// Selective Debug
//
//	// Only enable debug for the 'levilamina' service.
//	log.EnableDebugFor("levilamina")
//	log.ForService("levilamina").Debugf("visible")
//	log.ForService("endstone").Debugf("NOT visible")
//
// Output Routing
//
//	// Send logs to a file (ensure proper closing in real code).
//	f, _ := os.Create("lipindex.log")
//	log.SetOutput(f)
//
// Thread Safety
//
// All exported functions are safe for concurrent use. Internally the package
// relies on sync.Map and atomic primitives for minimal locking.
//
// Prefix Format
//
// The chosen prefix format `[name]` provides a concise, grep‑friendly service marker
// without timestamps when running under systemd (journald supplies them).
//
// Testing
//
// Tests can redirect output by calling SetOutput with a bytes.Buffer,
// enabling assertions on log contents.
//
// Future Extensions
//
// The package intentionally exposes only what is needed now. Potential (yet
// intentionally deferred) enhancements:
//   - Structured fields: logger.With(k, v).Infof(...)
//   - JSON output mode
//   - Context propagation helpers
//   - Config-driven initialization
//
// Add these only when a concrete requirement emerges.
