package kernelrun

import "sync"

// Output fragment types, matching the notebook format's output_type
// values.
const (
	OutputStream        = "stream"
	OutputDisplayData   = "display_data"
	OutputExecuteResult = "execute_result"
	OutputError         = "error"
)

// Output is one fragment of execution output. Type discriminates the
// fragment kind; the populated fields depend on it.
type Output struct {
	// Type is one of the Output* constants.
	Type string `json:"output_type"`

	// Name is the stream name ("stdout", "stderr") for stream fragments.
	Name string `json:"name,omitempty"`

	// Text is the accumulated text for stream fragments.
	Text string `json:"text,omitempty"`

	// Data is the MIME bundle for display_data and execute_result
	// fragments.
	Data map[string]any `json:"data,omitempty"`

	// Metadata annotates the MIME bundle.
	Metadata map[string]any `json:"metadata,omitempty"`

	// ExecutionCount is set on execute_result fragments.
	ExecutionCount int `json:"execution_count,omitempty"`

	// Ename, Evalue and Traceback describe an error fragment.
	Ename     string   `json:"ename,omitempty"`
	Evalue    string   `json:"evalue,omitempty"`
	Traceback []string `json:"traceback,omitempty"`
}

// Record accumulates the results of one code execution: the ordered
// output fragments, the kernel-assigned execution counter, and a nested
// metadata tree. A Record is owned by the caller and mutated by the
// client only through its methods while an execution is in flight; each
// method is individually atomic.
type Record struct {
	mu           sync.Mutex
	code         string
	outputs      []Output
	count        int
	meta         map[string]any
	clearPending bool
}

// NewRecord creates a record for one piece of source code.
func NewRecord(code string) *Record {
	return &Record{code: code}
}

// Code returns the source this record was created for.
func (r *Record) Code() string { return r.code }

// Outputs returns a copy of the accumulated output fragments.
func (r *Record) Outputs() []Output {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Output, len(r.outputs))
	copy(out, r.outputs)
	return out
}

// AppendOutput adds a fragment. Consecutive stream fragments with the
// same name merge into a single fragment; a deferred clear is applied
// first.
func (r *Record) AppendOutput(o Output) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.clearPending {
		r.outputs = nil
		r.clearPending = false
	}
	if o.Type == OutputStream && len(r.outputs) > 0 {
		last := &r.outputs[len(r.outputs)-1]
		if last.Type == OutputStream && last.Name == o.Name {
			last.Text += o.Text
			return
		}
	}
	r.outputs = append(r.outputs, o)
}

// ClearOutputs discards accumulated output. With wait set the clear is
// deferred until the next fragment arrives.
func (r *Record) ClearOutputs(wait bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if wait {
		r.clearPending = true
		return
	}
	r.outputs = nil
	r.clearPending = false
}

// Reset discards outputs and any pending clear so the record can be used
// for another run.
func (r *Record) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outputs = nil
	r.clearPending = false
}

// ExecutionCount returns the kernel's execution counter for this run, or
// 0 before the kernel assigned one.
func (r *Record) ExecutionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// SetExecutionCount records the kernel-assigned execution counter.
func (r *Record) SetExecutionCount(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.count = n
}

// SetMeta stores value in the metadata tree at the given path, creating
// intermediate maps as needed.
func (r *Record) SetMeta(value any, path ...string) {
	if len(path) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.meta == nil {
		r.meta = make(map[string]any)
	}
	node := r.meta
	for _, key := range path[:len(path)-1] {
		next, ok := node[key].(map[string]any)
		if !ok {
			next = make(map[string]any)
			node[key] = next
		}
		node = next
	}
	node[path[len(path)-1]] = value
}

// MetaAt returns the metadata value at path.
func (r *Record) MetaAt(path ...string) (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var node any = r.meta
	for _, key := range path {
		m, ok := node.(map[string]any)
		if !ok {
			return nil, false
		}
		if node, ok = m[key]; !ok {
			return nil, false
		}
	}
	return node, true
}

// Meta returns a copy of the metadata tree.
func (r *Record) Meta() map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return copyTree(r.meta)
}

func copyTree(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if sub, ok := v.(map[string]any); ok {
			out[k] = copyTree(sub)
			continue
		}
		out[k] = v
	}
	return out
}
