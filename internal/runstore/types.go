package runstore

// RunMeta is the persisted header of one batch run.
type RunMeta struct {
	RunID         string         `json:"run_id"`
	TargetDir     string         `json:"target_dir"`
	MaxIterations int            `json:"max_iterations"`
	Status        string         `json:"status"` // "running", "completed", "interrupted"
	Counts        map[string]int `json:"counts,omitempty"`
	CreatedAt     string         `json:"created_at"`
	UpdatedAt     string         `json:"updated_at"`
}

// Iteration is what one validation cycle produced for an item.
type Iteration struct {
	N          int    `json:"n"`
	Candidate  string `json:"-"`
	Tests      string `json:"-"`
	Output     string `json:"-"`
	Failure    string `json:"failure,omitempty"`
	Diagnostic string `json:"-"`
}
