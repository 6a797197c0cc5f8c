// Package ir holds the foundation types of the audit trail.
//
// Everything else imports ir; ir imports nothing internal. It contains:
//   - the sealed Value family used for entity fields and event effects
//   - canonical JSON (RFC 8785) used for every persisted payload
//   - the log data model: AuditLogEntry, CommitRecord, Action
//   - Coordinate, a point on either time axis
//
// Key constraints:
//   - No floats in values. Numbers are int64.
//   - Payloads are complete snapshots, never deltas against a prior revision.
//   - CommitID is the system-time total order; EffectiveDate is business time
//     at date granularity.
package ir
