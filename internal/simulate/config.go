package simulate

import "time"

// Config holds configuration for a simulation run.
type Config struct {
	BaseURL    string        // Base URL of the node
	Heights    int           // Number of sessions to play
	Behaviours []Behaviour   // Assigned round-robin to participants
	Poll       time.Duration // Interval between state polls
	Timeout    time.Duration // HTTP request timeout
	Wait       time.Duration // Maximum wait for one session to start and finish
	Verbose    bool          // Log every sent message
}

// Stats holds run statistics.
type Stats struct {
	Participants int
	Sessions     int
	Finalized    int
	Aborted      int
	Commits      int
	Reveals      int
	Rejected     int
	Wins         map[string]int
	AbortReasons map[string]int
	StartTime    time.Time
	Duration     time.Duration
}

func newStats() *Stats {
	return &Stats{
		Wins:         make(map[string]int),
		AbortReasons: make(map[string]int),
		StartTime:    time.Now(),
	}
}
