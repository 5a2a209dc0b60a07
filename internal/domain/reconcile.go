package domain

// ReconcileReport lists the membership items a repair pass touched.
type ReconcileReport struct {
	Collection string   `json:"collection"`
	Removed    []string `json:"removed"`
	Restored   []string `json:"restored"`
	Corrupt    []string `json:"corrupt"`
}
