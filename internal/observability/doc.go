// Package observability builds the zap loggers and the Prometheus recorder
// used by the gateway and the HTTP server.
package observability
