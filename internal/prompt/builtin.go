package prompt

// Template names.
const (
	Analyze  = "analyze.md"
	Fix      = "fix.md"
	Tests    = "tests.md"
	Document = "document.md"
)

// builtinTemplates maps template filename to content.
var builtinTemplates = map[string]string{
	Analyze:  analyzeTemplate,
	Fix:      fixTemplate,
	Tests:    testsTemplate,
	Document: documentTemplate,
}

const analyzeTemplate = `You are auditing a Python module named {{file_name}} before it is repaired.

## Code
` + "```python\n{{source}}\n```" + `

{{#if findings}}
## Static analysis
{{findings}}
{{/if}}

{{#if lint}}
## Linter output
{{lint}}
{{/if}}

{{#if last_failure}}
## Previous attempt failed (iteration {{iteration}})
{{last_failure}}
{{/if}}

## Task
Write a short, numbered repair plan. For each defect give the line, what goes wrong at
runtime, and the smallest change that fixes it. Order the plan by severity. Do not write the
corrected code.
`

const fixTemplate = `You are repairing the Python module {{file_name}} (attempt {{iteration}} of {{max_iterations}}).

## Current code
` + "```python\n{{source}}\n```" + `

{{#if plan}}
## Repair plan
{{plan}}
{{else}}
No repair plan is available; work from the code and the issues below.
{{/if}}

{{#if feedback}}
## Issues to address
{{feedback}}
{{/if}}

{{#if last_failure}}
## Why the previous attempt was rejected
{{last_failure}}
{{/if}}

## Rules
1. Fix the listed defects; keep every function name, parameter and return type.
2. Guard divisions, indexing, key access and aggregations over possibly empty input.
3. Do not use os, subprocess, shutil, eval or exec.
4. Add a docstring to every function and class.
5. Reply with the complete module in a single ` + "```python" + ` block and nothing else.
`

const testsTemplate = `Write pytest tests for the module below. The module is importable as {{module_name}}.

` + "```python\n{{source}}\n```" + `

## Rules
1. Import what you test with: from {{module_name}} import ...
2. Cover normal input and edge cases: zero divisors, empty collections, missing keys,
   out-of-range indexes.
3. Test behaviour the code documents; where it returns a sentinel such as None instead of
   raising, assert on that sentinel.
4. Name every test function test_<something>. No fixtures that touch the network or disk.
5. Reply with a single ` + "```python" + ` block containing only the test module.
`

const documentTemplate = `Write Markdown documentation for the repaired Python module {{file_name}}.

` + "```python\n{{source}}\n```" + `

{{#if changes}}
## What was repaired
{{changes}}
{{/if}}

Include a one-paragraph overview, then one section per public function or class with its
purpose, parameters, return value and edge-case behaviour. Reply with Markdown only.
`
