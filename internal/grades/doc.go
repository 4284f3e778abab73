// Package grades reconstructs a participant's current grade on a grading
// opportunity from the append-only log of grade changes.
//
// The log is replayed with Reduce (or incrementally with a Reducer). Replay is
// pure: the same opportunity and changes always yield the same State, and
// callers may run independent reductions concurrently.
package grades
