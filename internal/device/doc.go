// Package device holds the data model shared by the session manager and the
// adapter backends: adapter power states, per-device connection states,
// service filters and the catalog that resolves them, advertisement payloads,
// device snapshots and the error taxonomy.
//
// Nothing in this package talks to a radio. Backends translate their stack's
// values into these types and the session package owns every mutation.
package device
