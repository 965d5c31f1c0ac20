package feedback

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

const assertionOutput = `============================= test session starts ==============================
collected 2 items

test_calc_temp.py .F                                                     [100%]

=================================== FAILURES ===================================
_________________________________ test_divide __________________________________

    def test_divide():
>       assert divide(9, 3) == 4
E       assert 3.0 == 4
E        +  where 3.0 = divide(9, 3)

test_calc_temp.py:9: AssertionError
=========================== short test summary info ============================
FAILED test_calc_temp.py::test_divide - assert 3.0 == 4
========================= 1 failed, 1 passed in 0.03s ==========================
`

func TestExtract_CollectionFirst(t *testing.T) {
	raw := `==================================== ERRORS ====================================
______________________ ERROR collecting test_calc_temp.py ______________________
ImportError while importing test module '/sandbox/test_calc_temp.py'.
E   ModuleNotFoundError: No module named 'calc'
=========================== short test summary info ============================
ERROR test_calc_temp.py
!!!!!!!!!!!!!!!!!!!! Interrupted: 1 error during collection !!!!!!!!!!!!!!!!!!!!!
=============================== 1 error in 0.05s ===============================
`
	out := Extract(raw)
	assert.True(t, strings.HasPrefix(out, "______________________ ERROR collecting"), out)
	assert.LessOrEqual(t, strings.Count(out, "---"), MaxExcerpts-1)
}

func TestExtract_AssertionAndFailed(t *testing.T) {
	out := Extract(assertionOutput)
	assert.Contains(t, out, "assert divide(9, 3) == 4")
	assert.Contains(t, out, "FAILED test_calc_temp.py::test_divide")
}

func TestExtract_Dedupes(t *testing.T) {
	line := "FAILED test_x.py::test_a - AssertionError: assert 1 == 2"
	raw := strings.Repeat(line+"\n", 1)
	out := Extract(raw)
	assert.Equal(t, 1, strings.Count(out, line), out)
}

func TestExtract_Fallback(t *testing.T) {
	raw := strings.Repeat("x", 1000)
	out := Extract(raw)
	assert.Len(t, out, FallbackChars)
}

func TestExtract_Bounded(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 200; i++ {
		b.WriteString("E       AssertionError: assert 10 == 20 and a very long explanation follows here\n")
	}
	out := Extract(b.String())
	assert.LessOrEqual(t, len(out), MaxBytes)
}

func TestExtract_Empty(t *testing.T) {
	assert.Equal(t, "", Extract("   \n"))
}

func TestItems(t *testing.T) {
	items := Items(assertionOutput)
	assert.NotEmpty(t, items)
	assert.LessOrEqual(t, len(items), MaxExcerpts)
	for _, it := range items {
		assert.Equal(t, "HIGH", it.Severity)
	}
}

func TestFormat(t *testing.T) {
	out := Format([]Item{
		{Severity: "CRITICAL", Location: "line 3", Description: "Division without zero check", SuggestedAction: "guard it"},
		{Severity: "HIGH", Description: "test failed"},
	})
	assert.Contains(t, out, "1. [CRITICAL] line 3: Division without zero check")
	assert.Contains(t, out, "   Fix: guard it")
	assert.Contains(t, out, "2. [HIGH] test failed")
	assert.Equal(t, "", Format(nil))
}
