// Package model provides the foundational types shared by every progsync
// package: learner identities, learning units, tracks and quiz attempts.
//
// This package contains type definitions and pure helpers only. All other
// internal packages import model; model imports nothing internal.
//
// Key design constraints:
//   - Absence of identity is its own namespace (Anonymous), never a default
//   - Unit codes are stable across sessions
//   - All JSON tags use snake_case
package model
