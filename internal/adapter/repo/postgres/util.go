package postgres

import "time"

// secondsToDuration converts a whole-second column value (the convention
// every repo in this package uses for time.Duration fields) into a
// time.Duration.
func secondsToDuration(s int64) time.Duration { return time.Duration(s) * time.Second }

// durationToSeconds is secondsToDuration's inverse, for writes.
func durationToSeconds(d time.Duration) int64 { return int64(d / time.Second) }

// millisecondsToDuration converts an evaluation's millisecond-resolution
// timing columns (execution_time_ms, wall_time_ms) into a time.Duration.
func millisecondsToDuration(ms int64) time.Duration { return time.Duration(ms) * time.Millisecond }
