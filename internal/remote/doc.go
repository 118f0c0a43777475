// Package remote is the HTTP client for the Remote Progress Service.
//
// The service is authoritative for completed lessons, unit completions,
// quiz results, and accumulated time. Every call is keyed by the student id;
// the anonymous learner has no server identity and never reaches this
// package.
package remote
