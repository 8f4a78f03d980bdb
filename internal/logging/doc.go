// Package logging configures slog for gpuenc with per-module levels.
//
// Initialize is called once from the root command with the [logging]
// section of the config file. Every package then asks for its own logger:
//
//	logger := logging.GetLogger("nvenc").With("session_id", id)
//	logger.Debug("Encoder opened", "codec", cfg.Codec)
//
// Module names used in the tree are driver, nvenc, encoder, capture,
// api, nats, metrics, config and systemd. A module level overrides the
// global one for that module only:
//
//	[logging]
//	level = "info"
//	format = "json"
//
//	[logging.modules]
//	nvenc = "debug"
//	nats = "warn"
//
// SetLevels swaps levels at runtime without rebuilding handlers; the
// config watcher uses it when the file changes.
//
// # Outputs
//
// Records go to the systemd journal when journald is reachable (checked
// with [github.com/coreos/go-systemd/v22/journal.Enabled]) and to stdout
// as text or JSON otherwise. With both present a MultiHandler writes to
// each. Journal fields are upper-cased attribute keys, so a session can
// be followed with
//
//	journalctl -t gpuenc SESSION_ID=cam-1 -f
//
// # History
//
// A ring buffer keeps the most recent entries (buffer_size, default
// 1000). Entries are numbered so GetBuffer().Since(seq) returns only
// unseen lines, which backs GET /api/logs. SetLogCallback observes each
// new entry as it is written; serve forwards them onto the event bus for
// the log stream.
package logging
