// Package capture turns raw process output into classified log entries.
//
// The pipeline for one output channel is:
//
//	io.Reader chunks -> Reassemble -> Classify -> History (record + filter)
//
// Reassemble is a pure function over LineState so it can be exercised
// without any I/O. Channel drives it from a reader; History keeps the
// bounded recent window and the mutable level allow-list for a session.
//
// Only newline-terminated lines are emitted. A trailing fragment left
// when the stream ends is dropped.
package capture
