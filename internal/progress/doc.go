// Package progress carries extraction run milestones (run start and end,
// per-item results, checkpoints, session churn) from workers to pluggable
// sinks through a non-blocking, batching hub.
package progress
