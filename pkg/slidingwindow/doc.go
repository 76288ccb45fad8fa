// Package slidingwindow implements incremental, time-windowed extraction of
// insights data. Data is requested in fixed-size date windows, each fetched
// by one asynchronous report job, and a resumable state records which windows
// are done so that repeated runs never refetch stable history yet always
// refresh recent data that may still change.
//
// Terminology
//   - Window: a closed date interval [start, start+granularity-1]. The start
//     identifies the window.
//   - Cursor: start of the last window that is fully consumed, contiguously
//     confirmed and outside the lookback period. The resumable low-water mark.
//   - Completed windows: windows consumed but not folded into the cursor,
//     either because they sit ahead of a gap or because they are still inside
//     the lookback period.
//   - Resume pointer: the window the cursor waits for next.
//   - Refresh boundary: today minus the lookback. Windows on or after it are
//     refetched on every run.
//   - Oldest: today minus the retention. Nothing older is ever requested.
//
// Main components
//   - Windows: generates window starts from a pointer to the end bound, which is
//     the configured end date capped at yesterday.
//   - State: the cursor, the completed set and the granularity the state was
//     produced with. Advance folds the contiguous run of completed windows at
//     the resume pointer into the cursor. A state written with a different
//     granularity is discarded on load.
//   - ResolveStart: computes the first window of a run from the cursor, the
//     configured start date, the refresh boundary and the retention floor,
//     in that order of precedence.
//   - Plan: decides per window whether to submit, skip or resubmit it.
//   - Manager: runs a sync. It hands the planned jobs to an Executor, which
//     runs them concurrently but returns results in submission order, yields
//     records to the caller and updates the state after each window.
//
// Usage
//  1. Construct a Manager with NewManager(logger, config, executor, metrics).
//  2. Load the persisted state with Load(blob).
//  3. Range over Sync(ctx) and consume the records.
//  4. Persist Checkpoint() at any time, and once more after Sync returns.
package slidingwindow
