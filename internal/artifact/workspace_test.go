package artifact

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucasnoah/mender/internal/sandbox"
)

func TestWorkspace_Lifecycle(t *testing.T) {
	root, err := sandbox.New(t.TempDir())
	require.NoError(t, err)

	ws, err := NewWorkspace(root, "/proj/calc.py")
	require.NoError(t, err)
	assert.Equal(t, root.Root(), filepath.Dir(ws.Dir()))
	assert.True(t, strings.HasPrefix(filepath.Base(ws.Dir()), "calc-"))
	assert.Equal(t, "calc_temp", ws.ModuleName())
	assert.Equal(t, "test_calc_temp.py", ws.TestFile())

	src, err := ws.WriteSource("x = 1\n")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(ws.Dir(), "calc_temp.py"), src)

	testPath, written, err := ws.WriteTests("from calc import divide\n")
	require.NoError(t, err)
	assert.Equal(t, "from calc_temp import divide\n", written)
	assert.FileExists(t, testPath)

	require.NoError(t, ws.EndIteration(true))
	assert.FileExists(t, src)
	assert.FileExists(t, testPath)

	require.NoError(t, ws.EndIteration(false))
	assert.NoFileExists(t, src)
	assert.NoFileExists(t, testPath)

	require.NoError(t, ws.Close())
	_, err = os.Stat(ws.Dir())
	assert.True(t, os.IsNotExist(err))
}

func TestWorkspace_DistinctPerItem(t *testing.T) {
	root, err := sandbox.New(t.TempDir())
	require.NoError(t, err)
	a, err := NewWorkspace(root, "calc.py")
	require.NoError(t, err)
	b, err := NewWorkspace(root, "calc.py")
	require.NoError(t, err)
	assert.NotEqual(t, a.Dir(), b.Dir())
	require.NoError(t, a.Close())
	require.NoError(t, b.Close())
}

func TestRewriteImports(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"from import", "from calc import divide, add\n", "from calc_temp import divide, add\n"},
		{"plain import", "import calc\n", "import calc_temp as calc\n"},
		{"aliased import", "import calc as c\n", "import calc_temp as c\n"},
		{"indented", "def f():\n    from calc import divide\n", "def f():\n    from calc_temp import divide\n"},
		{"prefix name untouched", "from calculator import x\nimport calc_utils\n", "from calculator import x\nimport calc_utils\n"},
		{"other modules untouched", "import pytest\nfrom math import isclose\n", "import pytest\nfrom math import isclose\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RewriteImports(tt.in, "calc", "calc_temp"))
		})
	}
}

func TestWorkspace_NonIdentifierBaseName(t *testing.T) {
	root, err := sandbox.New(t.TempDir())
	require.NoError(t, err)

	ws, err := NewWorkspace(root, "/proj/my-calc.py")
	require.NoError(t, err)
	defer ws.Close()

	assert.Equal(t, "my_calc_temp", ws.ModuleName())
	assert.Equal(t, "my_calc_temp.py", ws.SourceFile())
	assert.Equal(t, "test_my_calc_temp.py", ws.TestFile())

	_, written, err := ws.WriteTests("from my_calc import divide\n")
	require.NoError(t, err)
	assert.Equal(t, "from my_calc_temp import divide\n", written)
}

func TestIdentifier(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"calc", "calc"},
		{"my-calc", "my_calc"},
		{"v1.2 tool", "v1_2_tool"},
		{"2fast", "_2fast"},
		{"naïve", "na_ve"},
		{"", "_"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Identifier(tt.in))
		})
	}
}
