// Package poller waits for a long-running detection job to finish.
//
// A job moves from Started to exactly one of Succeeded, Failed or TimedOut.
// Each attempt sleeps one interval, reads the job status and transitions:
//
//	Started --succeeded--> Succeeded (Output holds the job text)
//	Started --failed/canceled--> Failed
//	Started --attempt budget spent--> TimedOut
//
// Failed and TimedOut are reported in Result rather than as errors so the
// caller can continue without the job's output. They are logged with
// different job_state values.
//
// The Clock is injectable; tests pass a clock that returns immediately.
package poller
