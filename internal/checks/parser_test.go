package checks

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestGenericParser_Pass(t *testing.T) {
	p := &GenericParser{}
	r := p.Parse("output text", "stderr text", 0)
	if !r.Passed {
		t.Error("expected passed=true")
	}
	if r.Summary != "passed (exit code 0)" {
		t.Errorf("unexpected summary: %q", r.Summary)
	}
}

func TestGenericParser_FailKeepsTail(t *testing.T) {
	p := &GenericParser{}
	long := strings.Repeat("a", maxOutputLen) + "TAIL"
	r := p.Parse(long, "", 1)
	if r.Passed {
		t.Error("expected passed=false")
	}
	out := r.Findings.(string)
	if !strings.HasPrefix(out, "…(truncated)") || !strings.HasSuffix(out, "TAIL") {
		t.Errorf("expected truncated tail, got prefix %q", out[:20])
	}
}

func TestGenericParser_KeepsLastTraceback(t *testing.T) {
	out := "noise\nTraceback (most recent call last):\n  File \"a.py\", line 1\nValueError: first\n" +
		"more noise\nTraceback (most recent call last):\n  File \"b.py\", line 2, in f\nZeroDivisionError: division by zero\n"
	r := (&GenericParser{}).Parse(out, "", 1)
	if r.Passed {
		t.Fatal("expected passed=false")
	}
	findings := r.Findings.(string)
	if strings.Contains(findings, "first") || !strings.HasPrefix(findings, tracebackHeader) {
		t.Errorf("expected only the last traceback, got %q", findings)
	}
	if r.Summary != "exit code 1: ZeroDivisionError: division by zero" {
		t.Errorf("unexpected summary %q", r.Summary)
	}
}

func TestPylintParser_TextFormat(t *testing.T) {
	out := `************* Module calc
/tmp/sandbox/calc_temp.py:1:0: C0114: Missing module docstring (missing-module-docstring)
/tmp/sandbox/calc_temp.py:4:11: E0602: Undefined variable 'y' (undefined-variable)
/tmp/sandbox/calc_temp.py:7:4: W0612: Unused variable 'tmp' (unused-variable)
/tmp/sandbox/calc_temp.py:9:0: R0903: Too few public methods (too-few-public-methods)

------------------------------------------------------------------
Your code has been rated at 2.50/10
`
	p := &PylintParser{}
	r := p.Parse(out, "", 22)
	if r.Passed {
		t.Error("expected passed=false with an E message")
	}
	findings := r.Findings.([]PylintFinding)
	if len(findings) != 3 {
		t.Fatalf("expected 3 findings (R dropped), got %d: %+v", len(findings), findings)
	}
	if findings[1].Line != 4 || findings[1].Code != "E0602" {
		t.Errorf("unexpected finding %+v", findings[1])
	}
	if strings.Contains(findings[0].Message, "/tmp/") {
		t.Errorf("path should be stripped: %q", findings[0].Message)
	}
	if r.Summary != "1 errors, 1 warnings, 1 conventions" {
		t.Errorf("unexpected summary %q", r.Summary)
	}
}

func TestPylintParser_ParseableFormat(t *testing.T) {
	out := "calc_temp.py:3: [W0611(unused-import), ] Unused import os\n"
	findings := (&PylintParser{}).ParseLines(out)
	if len(findings) != 1 || findings[0].Code != "W0611" || findings[0].Line != 3 {
		t.Fatalf("unexpected findings %+v", findings)
	}
	if findings[0].Message != "Unused import os" {
		t.Errorf("unexpected message %q", findings[0].Message)
	}
}

func TestPylintParser_Clean(t *testing.T) {
	r := (&PylintParser{}).Parse("\n--------\nYour code has been rated at 10.00/10\n", "", 0)
	if !r.Passed || r.Summary != "code quality is good" {
		t.Errorf("unexpected result %+v", r)
	}
}

func TestPylintParser_NotInstalled(t *testing.T) {
	r := (&PylintParser{}).Parse("", "sh: 1: pylint: not found", 127)
	if r.Passed {
		t.Error("missing pylint should not pass")
	}
	if !strings.Contains(r.Summary, "did not run") {
		t.Errorf("unexpected summary %q", r.Summary)
	}
}

func TestClassifyPytest(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   Classification
	}{
		{
			name:   "summary line",
			output: "3 passed, 0 failed in 0.4s",
			want:   Classification{Passed: 3, Failed: 0, CollectionError: false, HasTests: true},
		},
		{
			name:   "collection marker without counts",
			output: "_____ ERROR collecting test_calc_temp.py _____\nE   ImportError",
			want:   Classification{CollectionError: true, HasTests: true},
		},
		{
			name:   "errors only",
			output: "=== 2 errors in 0.10s ===",
			want:   Classification{Errors: 2, CollectionError: true, HasTests: true},
		},
		{
			name:   "errors alongside passes",
			output: "1 passed, 1 error in 0.10s",
			want:   Classification{Passed: 1, Errors: 1, HasTests: true},
		},
		{
			name:   "no tests ran",
			output: "\nno tests ran in 0.01s\n",
			want:   Classification{HasTests: false},
		},
		{
			name:   "empty output is not proof of no tests",
			output: "",
			want:   Classification{HasTests: true},
		},
		{
			name: "counts come from the summary line, not the traceback",
			output: "    def test_run():\n>       assert report() == 'run: 7 passed'\n" +
				"E       AssertionError: 2 failed, 3 error\n" +
				"=========================== short test summary info ============================\n" +
				"FAILED test_calc_temp.py::test_run\n" +
				"========================= 1 failed, 1 passed in 0.03s =========================",
			want: Classification{Passed: 1, Failed: 1, HasTests: true},
		},
		{
			name:   "interrupted",
			output: "!!! Interrupted: 1 error during collection !!!\n1 error in 0.2s",
			want:   Classification{Errors: 1, CollectionError: true, HasTests: true},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyPytest(tt.output); got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestNewExecutionResult(t *testing.T) {
	tests := []struct {
		name      string
		output    string
		exit      int
		succeeded bool
		collect   bool
		failed    int
	}{
		{"all pass", "2 passed in 0.1s", 0, true, false, 0},
		{"failures", "1 failed, 1 passed in 0.1s", 1, false, false, 1},
		{"errors count as failures", "1 passed, 2 errors in 0.1s", 1, false, false, 2},
		{"no tests collected", "no tests ran in 0.01s", 5, true, false, 0},
		{"usage error without counts", "ERROR: file or directory not found: test_x.py\n\nno tests ran in 0.01s", 4, false, true, 0},
		{"failure exit with unreadable output", "something odd", 1, false, false, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewExecutionResult(tt.output, tt.exit)
			if r.Succeeded() != tt.succeeded {
				t.Errorf("succeeded = %v, want %v (%+v)", r.Succeeded(), tt.succeeded, r)
			}
			if r.CollectionError != tt.collect {
				t.Errorf("collection = %v, want %v", r.CollectionError, tt.collect)
			}
			if r.Failed != tt.failed {
				t.Errorf("failed = %d, want %d", r.Failed, tt.failed)
			}
		})
	}
}

func TestNewExecutionResult_CollectionZeroesPassed(t *testing.T) {
	r := NewExecutionResult("ERROR collecting test_a.py\n3 passed, 1 error in 0.2s", 2)
	if !r.CollectionError || r.Passed != 0 {
		t.Errorf("collection error must carry passed=0, got %+v", r)
	}
}

func TestPytestParser(t *testing.T) {
	r := (&PytestParser{}).Parse("1 failed, 4 passed in 0.3s", "", 1)
	if r.Passed {
		t.Error("expected passed=false")
	}
	if r.Summary != "4 passed, 1 failed" {
		t.Errorf("unexpected summary %q", r.Summary)
	}
	if _, err := json.Marshal(r); err != nil {
		t.Fatalf("marshal: %v", err)
	}
}
