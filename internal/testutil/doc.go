// Package testutil contains helper builders used across tests to reduce
// boilerplate when scripting stream events for one or many lanes. These
// helpers are intentionally minimal and not intended for production usage.
package testutil
