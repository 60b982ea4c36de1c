package domain

// CacheState activity of the balance cache as seen by the UI.
type CacheState string

const (
	// StateIdle nothing in flight.
	StateIdle CacheState = "idle"
	// StateLoading no data has been obtained yet.
	StateLoading CacheState = "loading"
	// StateUpdating a refresh runs while stale data is served.
	StateUpdating CacheState = "updating"
)

// Status cache status exposed to consumers.
type Status struct {
	State  CacheState `json:"state"`
	Source SourceTier `json:"source,omitempty"`
	Error  string     `json:"error,omitempty"`
	// ConsecutiveDegraded accepted snapshots in a row that did not come from the live source.
	ConsecutiveDegraded int `json:"consecutive_degraded"`
	// Stale set once degraded data has been served for too long.
	Stale bool `json:"stale"`
}
