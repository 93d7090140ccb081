package kernelrun

import (
	"reflect"
	"testing"
)

func TestRecord_MergesConsecutiveStreamFragments(t *testing.T) {
	rec := NewRecord("print(1)")
	rec.AppendOutput(Output{Type: OutputStream, Name: "stdout", Text: "ab"})
	rec.AppendOutput(Output{Type: OutputStream, Name: "stdout", Text: "cd"})

	outs := rec.Outputs()
	if len(outs) != 1 {
		t.Fatalf("len(Outputs()) = %d, want 1 merged fragment", len(outs))
	}
	if outs[0].Text != "abcd" {
		t.Errorf("merged text = %q, want %q", outs[0].Text, "abcd")
	}
}

func TestRecord_DifferentStreamsDoNotMerge(t *testing.T) {
	rec := NewRecord("x")
	rec.AppendOutput(Output{Type: OutputStream, Name: "stdout", Text: "out"})
	rec.AppendOutput(Output{Type: OutputStream, Name: "stderr", Text: "err"})

	if got := len(rec.Outputs()); got != 2 {
		t.Errorf("len(Outputs()) = %d, want 2", got)
	}
}

func TestRecord_InterveningOutputBreaksMerge(t *testing.T) {
	rec := NewRecord("x")
	rec.AppendOutput(Output{Type: OutputStream, Name: "stdout", Text: "a"})
	rec.AppendOutput(Output{Type: OutputDisplayData, Data: map[string]any{"text/plain": "mid"}})
	rec.AppendOutput(Output{Type: OutputStream, Name: "stdout", Text: "b"})

	if got := len(rec.Outputs()); got != 3 {
		t.Errorf("len(Outputs()) = %d, want 3", got)
	}
}

func TestRecord_ClearOutputsImmediate(t *testing.T) {
	rec := NewRecord("x")
	rec.AppendOutput(Output{Type: OutputStream, Name: "stdout", Text: "gone"})
	rec.ClearOutputs(false)

	if got := len(rec.Outputs()); got != 0 {
		t.Errorf("len(Outputs()) = %d after clear, want 0", got)
	}
}

func TestRecord_ClearOutputsDeferred(t *testing.T) {
	rec := NewRecord("x")
	rec.AppendOutput(Output{Type: OutputStream, Name: "stdout", Text: "old"})
	rec.ClearOutputs(true)

	// The clear waits for the next fragment.
	if got := len(rec.Outputs()); got != 1 {
		t.Fatalf("len(Outputs()) = %d right after deferred clear, want 1", got)
	}

	rec.AppendOutput(Output{Type: OutputStream, Name: "stdout", Text: "new"})
	outs := rec.Outputs()
	if len(outs) != 1 {
		t.Fatalf("len(Outputs()) = %d after next fragment, want 1", len(outs))
	}
	if outs[0].Text != "new" {
		t.Errorf("surviving text = %q, want %q", outs[0].Text, "new")
	}
}

func TestRecord_OutputsReturnsCopy(t *testing.T) {
	rec := NewRecord("x")
	rec.AppendOutput(Output{Type: OutputStream, Name: "stdout", Text: "a"})

	outs := rec.Outputs()
	outs[0].Text = "mutated"
	if got := rec.Outputs()[0].Text; got != "a" {
		t.Errorf("record text = %q after caller mutation, want %q", got, "a")
	}
}

func TestRecord_SetMetaCreatesPath(t *testing.T) {
	rec := NewRecord("x")
	rec.SetMeta("2024-05-01T10:00:00Z", "iopub", "status", "busy")
	rec.SetMeta("2024-05-01T10:00:01Z", "iopub", "status", "idle")

	v, ok := rec.MetaAt("iopub", "status", "idle")
	if !ok {
		t.Fatal("MetaAt() reported missing value")
	}
	if v != "2024-05-01T10:00:01Z" {
		t.Errorf("MetaAt() = %v, want the idle timestamp", v)
	}
	if _, ok := rec.MetaAt("iopub", "missing"); ok {
		t.Error("MetaAt() = ok for absent path, want missing")
	}
}

func TestRecord_SetMetaOverwritesLeafWithSubtree(t *testing.T) {
	rec := NewRecord("x")
	rec.SetMeta("leaf", "a")
	rec.SetMeta(1, "a", "b")

	v, ok := rec.MetaAt("a", "b")
	if !ok || v != 1 {
		t.Errorf("MetaAt(a, b) = %v, %v; want 1, true", v, ok)
	}
}

func TestRecord_MetaReturnsDeepCopy(t *testing.T) {
	rec := NewRecord("x")
	rec.SetMeta("v", "outer", "inner")

	m := rec.Meta()
	m["outer"].(map[string]any)["inner"] = "mutated"

	v, _ := rec.MetaAt("outer", "inner")
	if v != "v" {
		t.Errorf("record meta = %v after caller mutation, want %q", v, "v")
	}

	want := map[string]any{"outer": map[string]any{"inner": "v"}}
	if got := rec.Meta(); !reflect.DeepEqual(got, want) {
		t.Errorf("Meta() = %v, want %v", got, want)
	}
}

func TestRecord_ExecutionCount(t *testing.T) {
	rec := NewRecord("x")
	if got := rec.ExecutionCount(); got != 0 {
		t.Errorf("ExecutionCount() = %d before execution, want 0", got)
	}
	rec.SetExecutionCount(7)
	if got := rec.ExecutionCount(); got != 7 {
		t.Errorf("ExecutionCount() = %d, want 7", got)
	}
}

func TestRecord_ResetKeepsMetaAndCount(t *testing.T) {
	rec := NewRecord("x")
	rec.AppendOutput(Output{Type: OutputStream, Name: "stdout", Text: "a"})
	rec.SetExecutionCount(3)
	rec.SetMeta("v", "k")
	rec.ClearOutputs(true)

	rec.Reset()
	if got := len(rec.Outputs()); got != 0 {
		t.Errorf("len(Outputs()) = %d after Reset, want 0", got)
	}
	if got := rec.ExecutionCount(); got != 3 {
		t.Errorf("ExecutionCount() = %d after Reset, want 3", got)
	}
	if _, ok := rec.MetaAt("k"); !ok {
		t.Error("MetaAt(k) missing after Reset, want kept")
	}

	// The pending clear must not fire on the next append.
	rec.AppendOutput(Output{Type: OutputStream, Name: "stdout", Text: "b"})
	rec.AppendOutput(Output{Type: OutputStream, Name: "stdout", Text: "c"})
	if got := rec.Outputs()[0].Text; got != "bc" {
		t.Errorf("text after Reset = %q, want %q", got, "bc")
	}
}
