// Package engine drives rounds through their lifecycle: intake of
// submissions, the freeze latch, resolution with an idempotent result cache,
// and publication of the committed audit streams.
//
// Every state change goes through storage.Store, so several engine
// instances may share one database. Within a process, concurrent Resolve
// calls for the same round collapse into one pass.
package engine
