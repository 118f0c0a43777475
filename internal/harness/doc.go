// Package harness runs progress sync scenarios as executable contract tests.
//
// A scenario seeds the device cache and a fake remote service, opens a real
// session for one learner, drives completions, quiz attempts and time
// accumulation, then asserts on the trace and the final state. The trace
// lists bus events and remote calls per flow step; golden files pin it.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	user: "42"
//	setup:
//	  cache:
//	    signature-based-detection-completed-lessons: '["intro"]'
//	  ledgers:
//	    - unit: signature-based-detection/lesson:intro
//	      pending: 30
//	  server:
//	    lessons:
//	      signature-based-detection: [rule-anatomy]
//	  fail:
//	    - op: record_time
//	      times: 1
//	flow:
//	  - op: complete_lesson
//	    module: signature-based-detection
//	    lesson: intro
//	    expect:
//	      added: true
//	  - op: answer
//	    quiz: signature-module-1
//	    answers: [0, 1, 1, 0, 0]
//	  - op: submit
//	    quiz: signature-module-1
//	    expect:
//	      passed: true
//	assertions:
//	  - type: event_count
//	    kind: quiz.passed
//	    count: 1
//	  - type: remote_calls
//	    op: mark_lesson
//	    count: 1
//	  - type: cache_key
//	    key: signature-based-detection-completed-lessons
//	    absent: true
//	  - type: progress
//	    module: signature-based-detection
//	    percent: 43
//
// # Flow Operations
//
//   - complete_lesson, complete_unit: completion tracker
//   - answer, submit, review, retry, reset: quiz attempt state machine
//   - refresh: merge server completions for every module
//   - tick, hide, show, flush: time accumulator of one unit
//   - advance: move the fake clock
//   - fail: inject remote failures mid-flow
//   - close, reopen: end the session; reopen starts a new one, optionally
//     for another learner on the same device
//
// # Assertion Types
//
//   - event_count: an event kind was published exactly N times
//   - event_order: event kinds were published in order (gaps allowed)
//   - remote_calls: a remote operation was called N times
//   - cache_key: a raw durable key holds a value, or is absent
//   - progress: the final module summary
//
// # Golden Files
//
// Traces are compared against testdata/golden/{name}.golden. Regenerate
// with:
//
//	go test ./internal/harness -update
package harness
