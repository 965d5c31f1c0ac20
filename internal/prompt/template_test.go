package prompt

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRender(t *testing.T) {
	tests := []struct {
		name string
		tmpl string
		vars Vars
		want string
	}{
		{"plain text", "no variables here", nil, "no variables here"},
		{"variables", "Repair {{file_name}} (attempt {{iteration}})", Vars{"file_name": "calc.py", "iteration": "2"}, "Repair calc.py (attempt 2)"},
		{"if set", "A{{#if lint}} lint: {{lint}}{{/if}}B", Vars{"lint": "3 errors"}, "A lint: 3 errors B"},
		{"if unset", "A{{#if lint}} lint: {{lint}}{{/if}}B", Vars{}, "AB"},
		{"if empty string counts as unset", "A{{#if lint}}x{{/if}}B", Vars{"lint": ""}, "AB"},
		{"unless unset", "{{#unless plan}}no plan{{/unless}}", Vars{}, "no plan"},
		{"unless set", "{{#unless plan}}no plan{{/unless}}", Vars{"plan": "1. guard"}, ""},
		{"else branch", "{{#if plan}}{{plan}}{{else}}none{{/if}}", Vars{}, "none"},
		{"then branch skips else", "{{#if plan}}{{plan}}{{else}}none{{/if}}", Vars{"plan": "p"}, "p"},
		{"nested both set", "{{#if a}}outer {{#if b}}inner{{/if}} end{{/if}}", Vars{"a": "y", "b": "y"}, "outer inner end"},
		{"nested outer unset", "S{{#if a}}outer {{#if b}}inner{{/if}} end{{/if}}F", Vars{"b": "y"}, "SF"},
		{"whitespace in tag", "{{#if x }}content{{/if}}", Vars{"x": "y"}, "content"},
		{"newline in tag", "{{#if\nx}}content{{/if}}", Vars{"x": "y"}, "content"},
		{"variable named like else", "{{elsewhere}}", Vars{"elsewhere": "ok"}, "ok"},
		{"values are literal", "Hello {{name}}", Vars{"name": "{{evil}}"}, "Hello {{evil}}"},
		{"values are not expanded again", "{{a}} and {{b}}", Vars{"a": "{{b}}", "b": "hello"}, "{{b}} and hello"},
		{"value looks like a closing tag", "{{#if note}}Note: {{note}}{{/if}} done", Vars{"note": "use {{/if}} carefully"}, "Note: use {{/if}} carefully done"},
		{"skipped branch needs no vars", "S{{#if x}}with {{y}}{{/if}}M", Vars{}, "SM"},
		{"code braces pass through", "d = {'k': {1: 2}}", nil, "d = {'k': {1: 2}}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Render(tt.tmpl, tt.vars)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRender_Errors(t *testing.T) {
	tests := []struct {
		name string
		tmpl string
		vars Vars
		want string
	}{
		{"missing variable", "Hello {{name}}, item {{item}}.", Vars{"name": "x"}, "missing template variables: item"},
		{"missing listed once in order", "{{c}} {{a}} {{c}} {{b}}", nil, "missing template variables: c, a, b"},
		{"unclosed", "START{{#if x}}content with {{y}}MORE", Vars{"x": "y", "y": "v"}, "unclosed conditional block: {{#if x}}"},
		{"dangling close", "text{{/if}}", nil, "dangling {{/if}}"},
		{"mismatched close", "{{#if x}}a{{/unless}}", nil, "{{/unless}} closes {{#if x}}"},
		{"second else", "{{#if x}}a{{else}}b{{else}}c{{/if}}", nil, "second {{else}}"},
		{"else outside block", "a{{else}}b", nil, "dangling {{else}}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Render(tt.tmpl, tt.vars)
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestRender_FixTemplate(t *testing.T) {
	vars := Vars{
		"file_name":      "calc.py",
		"iteration":      "2",
		"max_iterations": "3",
		"source":         "def divide(a, b):\n    return a / b",
		"plan":           "",
		"feedback":       "1. [CRITICAL] line 2: Division without zero check",
		"last_failure":   "FAILED test_calc_temp.py::test_divide_by_zero",
	}

	result, err := Render(builtinTemplates[Fix], vars)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{"return a / b", "attempt 2 of 3", "test_divide_by_zero", "No repair plan is available"} {
		if !strings.Contains(result, want) {
			t.Errorf("expected %q in output", want)
		}
	}
	if strings.Contains(result, "## Repair plan") {
		t.Errorf("empty plan should drop its section")
	}
}

func TestRender_AllBuiltins(t *testing.T) {
	vars := Vars{
		"file_name": "calc.py", "module_name": "calc_temp", "source": "x = 1",
		"iteration": "1", "max_iterations": "3", "findings": "f", "lint": "l",
		"last_failure": "lf", "plan": "p", "feedback": "fb", "changes": "c",
	}
	for _, name := range Names() {
		tmpl, err := Load(name, "")
		if err != nil {
			t.Fatalf("load %s: %v", name, err)
		}
		out, err := Render(tmpl, vars)
		if err != nil {
			t.Errorf("render %s: %v", name, err)
		}
		if strings.Contains(out, "{{") {
			t.Errorf("%s left a tag behind:\n%s", name, out)
		}
	}
}

func TestLoad_Override(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, Fix), []byte("custom template"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	result, err := Load(Fix, dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "custom template" {
		t.Errorf("expected override, got %q", result)
	}

	result, err = Load(Tests, dir)
	if err != nil || result != builtinTemplates[Tests] {
		t.Errorf("expected built-in fallback, got err=%v", err)
	}
}

func TestLoad_Rejects(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "prompts")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	secret := filepath.Join(root, "secret.md")
	if err := os.WriteFile(secret, []byte("SECRET"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load("nonexistent.md", ""); err == nil {
		t.Error("unknown template should fail")
	}
	if out, err := Load("../secret.md", dir); err == nil {
		t.Errorf("relative escape read %q", out)
	}
	if out, err := Load(secret, "/some/prompts"); err == nil {
		t.Errorf("absolute name read %q", out)
	}
}

func TestInstall(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "prompts")

	written, err := Install(dir)
	if err != nil {
		t.Fatalf("install error: %v", err)
	}
	if strings.Join(written, ",") != strings.Join(Names(), ",") {
		t.Errorf("expected all templates written, got %v", written)
	}
	for _, name := range Names() {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("template %q not installed: %v", name, err)
		}
	}

	edited := filepath.Join(dir, Fix)
	if err := os.WriteFile(edited, []byte("mine"), 0o644); err != nil {
		t.Fatal(err)
	}
	written, err = Install(dir)
	if err != nil {
		t.Fatalf("second install error: %v", err)
	}
	if len(written) != 0 {
		t.Errorf("expected nothing rewritten, got %v", written)
	}
	if data, _ := os.ReadFile(edited); string(data) != "mine" {
		t.Errorf("edited template was overwritten")
	}
}

func TestNames(t *testing.T) {
	want := []string{Analyze, Document, Fix, Tests}
	if got := Names(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("expected %v, got %v", want, got)
	}
}
