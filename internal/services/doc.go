// Package services defines shared utilities consumed by the batch phases and
// the external tool wrappers.
//
// Key responsibilities:
//   - Context helpers that stamp run IDs, media item IDs, and phase names
//     for logging.
//   - Structured error markers plus the Wrap helper so failures can be
//     classified with errors.Is (precondition, external tool, metadata,
//     timeout) regardless of how deeply they were wrapped.
//
// Use these helpers when wiring new phase logic so error handling and
// observability stay uniform across a run.
package services
