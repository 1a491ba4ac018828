// Package tracing wraps OpenTelemetry so that the kernel can record spans for
// cranks, vat deliveries and syscalls without importing otel everywhere.
// Tracing is off unless Init installs a provider; spans are no-ops otherwise.
package tracing
