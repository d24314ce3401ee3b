package harness

// Trace event types.
const (
	EventInvocation = "invocation"
	EventCompletion = "completion"
	EventDispatch   = "dispatch"
	EventNetwork    = "network"
)

// TraceEvent is one entry of a scenario trace.
//
// Invocations and completions bracket every flow step; dispatch and network
// events recorded while the step runs fall between them.
type TraceEvent struct {
	Type string `json:"type"`
	// Op is the flow operation (invocation, completion).
	Op string `json:"op,omitempty"`
	// Item is the dispatched item id (dispatch).
	Item   string         `json:"item,omitempty"`
	Args   map[string]any `json:"args,omitempty"`
	Result map[string]any `json:"result,omitempty"`
	Seq    int64          `json:"seq"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every expect clause and assertion held.
	Pass bool `json:"pass"`

	// Trace holds every recorded event in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	seq int64
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func (r *Result) add(e TraceEvent) {
	r.seq++
	e.Seq = r.seq
	r.Trace = append(r.Trace, e)
}

// AddInvocationTrace records the start of a flow step.
func (r *Result) AddInvocationTrace(op string, args map[string]any) {
	r.add(TraceEvent{Type: EventInvocation, Op: op, Args: args})
}

// AddCompletionTrace records the end of a flow step.
func (r *Result) AddCompletionTrace(op string, result map[string]any) {
	r.add(TraceEvent{Type: EventCompletion, Op: op, Result: result})
}

// AddDispatchTrace records one transport call and its answer.
func (r *Result) AddDispatchTrace(item string, args, result map[string]any) {
	r.add(TraceEvent{Type: EventDispatch, Item: item, Args: args, Result: result})
}

// AddNetworkTrace records an accepted network state change.
func (r *Result) AddNetworkTrace(args, result map[string]any) {
	r.add(TraceEvent{Type: EventNetwork, Args: args, Result: result})
}

// Dispatches returns the dispatched item ids in call order.
func (r *Result) Dispatches() []string {
	var ids []string
	for _, e := range r.Trace {
		if e.Type == EventDispatch {
			ids = append(ids, e.Item)
		}
	}
	return ids
}
