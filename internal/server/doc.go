// Package server exposes the HTTP surface of the call agent: the call API,
// the carrier's status webhook and media websocket, and the health and
// Prometheus monitoring endpoints.
package server
