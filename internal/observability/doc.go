// Package observability provides structured logging and metrics for the
// auth gateway.
//
// Logging is zap based. Metrics are Prometheus counters covering logins,
// refreshes, access token checks and Google key set fetches.
package observability
