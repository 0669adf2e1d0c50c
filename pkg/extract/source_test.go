package extract

import (
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/willibrandon/stepscope/pkg/memory"
)

func TestFromSource(t *testing.T) {
	source := "#include <stdio.h>\r\n" +
		"int main() {\n" +
		"  int x = 10;\n" +
		"  float f = 2.5;\n" +
		"  int arr[3] = {1, 2, 3};\n" +
		"  char name[4] = \"abc\";\n" +
		"  int *p = &x;\n" +
		"  x = 42;\n" +
		"  printf(\"%d\\n\", x);\n" +
		"  return 0;\n" +
		"}\n"

	state := FromSource(source, memory.NewAddressSpace(memory.DefaultBase, 0), logr.Discard())
	require.Len(t, state, 5)

	assert.Equal(t, "42", state["x"].Value)
	assert.Equal(t, "0x001000", state["x"].Address)
	assert.Equal(t, "2.500", state["f"].Value)
	assert.Equal(t, "0x001004", state["f"].Address)
	assert.Equal(t, []string{"1", "2", "3"}, state["arr"].Elements)
	assert.Equal(t, []string{"0x001008", "0x00100c", "0x001010"}, state["arr"].Addresses)
	assert.Equal(t, []string{"a", "b", "c", " "}, state["name"].Elements)
	assert.Equal(t, "0x001014", state["name"].FirstAddress())
	assert.Equal(t, Pointer, state["p"].Kind)
	assert.Equal(t, "0x001000", state["p"].Value)
	assert.Equal(t, "0x001018", state["p"].Address)
}

func TestFromSourceLastLineDeclaration(t *testing.T) {
	state := FromSource("int last = 7;", memory.NewAddressSpace(0x2000, 0), logr.Discard())
	require.Contains(t, state, "last")
	assert.Equal(t, "7", state["last"].Value)
	assert.Equal(t, "0x002000", state["last"].Address)
}

func TestFromSourceEmpty(t *testing.T) {
	assert.Empty(t, FromSource("", memory.NewAddressSpace(memory.DefaultBase, 0), logr.Discard()))
}
