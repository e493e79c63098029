package harness

// TraceEvent records one executed step.
type TraceEvent struct {
	Seq     int64    `json:"seq"`
	Session string   `json:"session,omitempty"`
	Action  string   `json:"action"`
	Keys    []string `json:"keys,omitempty"`

	// Compaction outcome (compact and release steps).
	Compacted bool `json:"compacted,omitempty"`
	Counted   int  `json:"counted,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every step ran and every assertion held.
	Pass bool `json:"pass"`

	// Trace lists the executed steps in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains step and assertion failures.
	Errors []string `json:"errors,omitempty"`

	// Values holds the final live values of each session that was still
	// open after the last step.
	Values map[string]map[string]string `json:"values"`

	// Records counts the document's stored records by kind.
	Records map[string]int `json:"records"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:    true,
		Trace:   []TraceEvent{},
		Errors:  []string{},
		Values:  make(map[string]map[string]string),
		Records: make(map[string]int),
	}
}

// AddError adds a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// addTrace appends ev with the next sequence number.
func (r *Result) addTrace(ev TraceEvent) {
	ev.Seq = int64(len(r.Trace) + 1)
	r.Trace = append(r.Trace, ev)
}
