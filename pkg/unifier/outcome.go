package unifier

// Stage names used in outcomes and log fields.
const (
	StageRead        = "read"
	StageExtract     = "extract"
	StagePartition   = "partition"
	StageMerge       = "merge"
	StageMaterialize = "materialize"
	StageDebug       = "debug"
)

type Status string

const (
	StatusOK      Status = "ok"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// Outcome records what happened to one item at one stage of a run.
type Outcome struct {
	Stage  string `json:"stage"`
	Item   string `json:"item"`
	Status Status `json:"status"`
	Reason string `json:"reason,omitempty"`
}

func (r *Result) record(stage, item string, status Status, reason string) {
	r.Outcomes = append(r.Outcomes, Outcome{Stage: stage, Item: item, Status: status, Reason: reason})
}

// Counts tallies outcomes by status.
func (r Result) Counts() map[Status]int {
	out := map[Status]int{}
	for _, o := range r.Outcomes {
		out[o.Status]++
	}
	return out
}

// Failed reports whether the run was aborted or any outcome failed.
func (r Result) Failed() bool {
	return r.Error != "" || r.Counts()[StatusFailed] > 0
}
