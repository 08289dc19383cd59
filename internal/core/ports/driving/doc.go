// Package driving defines interfaces that external actors (CLI, MCP clients,
// the inbox watcher) use to interact with core services. These are the
// "driving" ports in hexagonal architecture terminology - they drive the
// application. Actors issue commands and render returned values; they never
// mutate pipeline state directly.
//
// Implementations of these interfaces live in internal/core/services.
package driving
