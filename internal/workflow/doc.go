// Package workflow drives queued production tasks through the generation
// pipeline: storyboard, stills, animatic, assembly.
//
// The Manager polls the task store, claims the oldest actionable task,
// acquires the owning project's advisory lock, and hands the task to the
// stage registered for its status. Heartbeats are written while a stage
// runs; a reclaimer sweeps tasks whose heartbeats went stale (crashed or
// hung runs) back to the start of their current stage so they are not lost,
// and tasks that stay stale past a longer cutoff are failed outright.
package workflow
