package haclient

import "time"

// StatusSummary is the per-broker status record named in spec.md §6.
type StatusSummary struct {
	Identity    string
	Alias       string
	Status      Status
	Disconnects uint64
	Failures    uint64
	Retries     uint64
}

// BrokerStats is the per-broker statistics record named in spec.md §6.
// The counters are nil when zero, per the "null-if-zero" rule.
type BrokerStats struct {
	Alias          string
	Identity       string
	Status         string
	Disconnects    *uint64
	DisconnectLast *time.Time
	Failures       *uint64
	FailureLast    *time.Time
	Retries        *uint64
}

func nullIfZero(v uint64) *uint64 {
	if v == 0 {
		return nil
	}
	return &v
}
