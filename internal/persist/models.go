package persist

import (
	"encoding/json"
	"time"

	"github.com/kayz/thespian/internal/narrative"
)

// Session is one stored exploration: its identity plus the full tree.
type Session struct {
	ID        string
	Title     string
	Mode      string
	CreatedAt time.Time
	UpdatedAt time.Time
	Tree      *narrative.TreeSnapshot
}

// SessionInfo is the listing row of a session, without the tree.
type SessionInfo struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	Mode           string    `json:"mode"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	ActiveBranches int       `json:"active_branches"`
	PrunedBranches int       `json:"pruned_branches"`
	Collapses      int       `json:"collapses"`
}

// CollapseEntry is one recorded collapse of a session, in decision order.
type CollapseEntry struct {
	SessionID    string                     `json:"session_id"`
	Seq          int                        `json:"seq"`
	SelectedID   string                     `json:"selected_branch"`
	Probability  float64                    `json:"selection_probability"`
	Trigger      *narrative.CollapseTrigger `json:"trigger,omitempty"`
	Alternatives []string                   `json:"alternatives_pruned"`
	CreatedAt    time.Time                  `json:"created_at"`
}

// scanner interface for both *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...any) error
}

// toJSON converts an object to JSON string
func toJSON(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(data)
}

// fromJSON parses JSON string into an object
func fromJSON(data string, v interface{}) error {
	if data == "" || data == "null" {
		return nil
	}
	return json.Unmarshal([]byte(data), v)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
