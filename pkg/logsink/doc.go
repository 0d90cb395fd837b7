// Package logsink holds the destinations the log multiplexer writes to:
// console, JSON-lines files, SQLite, NATS and memory, plus a fan-out.
// Every sink implements logs.Sink and is safe for the single writer
// goroutine the multiplexer runs.
package logsink
