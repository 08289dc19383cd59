// Package domain defines the core business entities for docintel.
//
// This package is part of the hexagonal architecture's innermost layer.
// It has NO external dependencies and defines the fundamental types:
//
//   - Document: A scanned document and its pipeline status
//   - Page: One page image and its recognised text
//   - Chunk: A retrievable unit of recognised text
//   - StructuredRecord: Fields extracted from a document in one run
//   - Status: The pipeline state machine for a document
//
// # Architectural Position
//
// Domain is at the centre of the hexagon. It may only import
// the Go standard library. All other packages depend on domain,
// never the reverse.
//
// # Import Rules
//
//   - Can Import: Standard library only
//   - Cannot Import: Any internal/ package, any external dependency
package domain
