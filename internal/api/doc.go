// Package api serves the engine over HTTP: synchronous workflow execution,
// asynchronous runs, component and plugin discovery, and a websocket event
// stream.
package api
