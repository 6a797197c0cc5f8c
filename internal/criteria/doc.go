// Package criteria is a small, sealed predicate language over the audit log.
//
// Stores receive a Query instead of ad-hoc method parameters so that every
// backend compiles the same intent to its own SQL dialect (see querysql).
// Predicates only describe which log rows are wanted; ordering and limits
// live on Query.
package criteria
