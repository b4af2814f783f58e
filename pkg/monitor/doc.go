// Package monitor runs processes and turns their output into events.
//
// A Registry owns a table of sessions, one per started process. Each
// session reads stdout and stderr on its own goroutines, records every
// classified line in a bounded history, and publishes the lines that pass
// its level filter on the registry's bus. When the process ends the session
// waits for both streams to drain and publishes either process-exited or
// process-crashed.
package monitor
