// Package workunit defines the schedulable unit of discretionary work.
//
// A Template is an immutable blueprint (cost, duration, time preference,
// priority). Instantiate produces a WorkUnit with a fresh identity whose
// status moves forward through the lifecycle:
//
//	planned → scheduled → running → completed | failed
//	planned | scheduled → cancelled
//
// Work units are owned by a single scheduler and are not safe for
// concurrent mutation.
package workunit
