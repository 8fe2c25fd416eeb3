package services

// Batch job names. Scheduled and manual runs of a job share its lock.
const (
	JobSweep        = "sweep"
	JobRecompute    = "recompute"
	JobWeeklyDigest = "weekly-digest"
	JobReapEvents   = "reap-events"
)
