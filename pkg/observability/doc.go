// Package observability provides structured logging, Prometheus metrics,
// and graceful shutdown support for the vortex moderation service.
package observability
