// Package keys resolves logical progress facts into durable-store keys.
//
// A Fact names one piece of learner state ("quiz m1 on the signature track
// has been passed"). The same fact has been stored under several key shapes
// over time; each shape is a SchemaVersion:
//
//	PreNamespace  <slug>-module-quiz-passed   (oldest module family only)
//	Anonymous     prefix:slug:suffix
//	UserSuffixed  prefix:slug:suffix:u<id>
//	Canonical     prefix:slug:u<id>:suffix
//
// Reads walk the chain Canonical -> UserSuffixed -> Anonymous -> PreNamespace
// and migrate any non-canonical hit into the canonical key. Legacy shapes
// are read-only and are never deleted by a read.
//
// The Anonymous and PreNamespace shapes are shared by every identity on the
// device. They are consulted for an identified learner only until Sweep has
// run; Sweep adopts them once, purges them, and records a marker so a later
// account on the same device can never inherit them.
package keys
