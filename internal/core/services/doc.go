// Package services implements the driving port interfaces.
// Services contain the core business logic and orchestrate
// calls to driven ports (adapters).
//
// The PipelineOrchestrator is the only writer of a document's pipeline
// status. Services are pure Go with no CGO dependencies.
package services
