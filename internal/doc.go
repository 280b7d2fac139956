// Package internal contains the core implementation packages for sketch.
//
// This package follows Go's internal package convention, making these
// packages unavailable for import by external modules while providing
// all the core functionality for the sketch CLI tool.
//
// # Package Organization
//
// The internal packages are organized by functional domain:
//
//   - vfs: In-memory project tree with path normalization and change events
//   - ops: Edit operation vocabulary applied against the tree
//   - transform: JSX/TSX compilation to browser-ready ES modules
//   - importmap: Per-run import map and module handle construction
//   - assemble: Preview document assembly with diagnostics
//   - pipeline: Debounced compile loop tying the stages together
//   - server: HTTP host, project API, and websocket reload push
//   - watcher: Disk directory mirroring with debouncing
//   - snapshot: SQLite-backed named project snapshots
//   - config: Configuration and per-project manifest loading
//   - errors: Structured error taxonomy shared across packages
//   - logging: Structured logging on top of log/slog
package internal
