package domain

import "time"

// Outcome labels of a successful fetch. Failures use the failure kind name.
const (
	OutcomeStream  = "stream"
	OutcomeSpooled = "spooled"
)

// FetchRecord is one fetch call as kept in the outcome cache and the audit log.
type FetchRecord struct {
	ID           string    `json:"id" db:"id"`
	Backend      string    `json:"backend" db:"backend"`
	Key          string    `json:"key" db:"fetch_key"`
	Outcome      string    `json:"outcome" db:"outcome"`
	Attempts     int       `json:"attempts" db:"attempts"`
	Size         int64     `json:"size" db:"size"`
	SpooledPath  string    `json:"spooled_path,omitempty" db:"spooled_path"`
	ErrorCode    string    `json:"error_code,omitempty" db:"error_code"`
	ErrorMessage string    `json:"error_message,omitempty" db:"error_message"`
	Error        string    `json:"error,omitempty" db:"error"`
	Scopes       []string  `json:"scopes,omitempty" db:"-"`
	ElapsedMs    int64     `json:"elapsed_ms" db:"elapsed_ms"`
	SleptMs      int64     `json:"slept_ms" db:"slept_ms"`
	StartedAt    time.Time `json:"started_at" db:"started_at"`
}

// Succeeded reports whether the call delivered content.
func (r *FetchRecord) Succeeded() bool {
	return r.Outcome == OutcomeStream || r.Outcome == OutcomeSpooled
}
