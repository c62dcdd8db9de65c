// Package api exposes the HTTP interface: agent administration, synchronous
// and queued chat turns, persisted chat history, thread memory inspection,
// health and Prometheus metrics.
package api
