package models

// SelectionVersion is the current schema version of a persisted Selection.
const SelectionVersion = 2

// Selection is the per-session state that survives reconnects: the chosen
// branch for checkout and the kitchen display alert toggle.
type Selection struct {
	Version          int     `json:"version"`
	Branch           *Branch `json:"branch,omitempty"`
	KDSAlertsEnabled bool    `json:"kds_alerts_enabled"`
}

// NewSelection returns the empty selection at the current version.
func NewSelection() Selection {
	return Selection{Version: SelectionVersion, KDSAlertsEnabled: true}
}
