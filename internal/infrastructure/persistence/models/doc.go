// Package models contains GORM-specific persistence models that map to the
// catalog tables. They are separate from the measurement domain types so the
// domain layer stays free of ORM concerns.
//
// Structure:
// - base.go: key and audit columns
// - measurement.go: measurements table (summary, metadata, provenance)
// - analysis.go: analysis_results table
package models
