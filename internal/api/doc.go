// Package api defines wire-format types and converters for the HTTP status
// API. It translates ledger rows, registry records, and runtime summaries into
// transport-friendly DTOs so clients never couple to internal types.
//
// DTOs use camelCase JSON tags. Internal enums such as history.Status are
// exposed as lowercase strings, and timestamps use RFC3339 with milliseconds.
// Errors carried by workflow outcomes are flattened to their message.
package api
