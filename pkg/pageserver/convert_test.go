package pageserver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConvert(t *testing.T) {
	ops := &Choices{Display: []string{"add", "subtract"}}
	speeds := &Choices{Display: []string{"Slow", "Fast"}, Values: []string{"s", "f"}}

	for _, tc := range []struct {
		name      string
		fieldType string
		raw       string
		choices   *Choices
		want      any
	}{
		{"float", "float", "0.50", nil, 0.5},
		{"float padded", "float", " 3 ", nil, 3.0},
		{"int", "int", "42", nil, 42},
		{"str", "str", " as is ", nil, " as is "},
		{"bool true", "bool", "true", nil, true},
		{"bool other", "bool", "yes", nil, false},
		{"sel display", "sel", "subtract", ops, "subtract"},
		{"sel value", "sel", "Fast", speeds, "f"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Convert(tc.fieldType, tc.raw, tc.choices)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestConvertFailures(t *testing.T) {
	_, err := Convert("float", "abc", nil)
	assert.Error(t, err)
	_, err = Convert("int", "2.5", nil)
	assert.Error(t, err)
	_, err = Convert("sel", "add", nil)
	assert.ErrorIs(t, err, ErrNoChoices)
	_, err = Convert("sel", "modulo", &Choices{Display: []string{"add"}})
	assert.Error(t, err)
	_, err = Convert("complex", "1i", nil)
	assert.ErrorIs(t, err, ErrUnknownType)
}

func TestSplitNotifyID(t *testing.T) {
	name, fieldType, err := splitNotifyID("number_A-f")
	require.NoError(t, err)
	assert.Equal(t, "number_A", name)
	assert.Equal(t, "float", fieldType)

	name, fieldType, err = splitNotifyID("my-label-s")
	require.NoError(t, err)
	assert.Equal(t, "my-label", name)
	assert.Equal(t, "str", fieldType)

	for _, id := range []string{"plain", "-f", "count-x"} {
		_, _, err := splitNotifyID(id)
		assert.Error(t, err, id)
	}
}

func TestMakeSelect(t *testing.T) {
	out, err := MakeSelect([]string{"add", "subtract"}, "subtract", nil)
	require.NoError(t, err)
	assert.Equal(t, "<option>add</option><option selected>subtract</option>", out)

	out, err = MakeSelect([]string{"s", "f"}, "s", []string{"Slow", "Fast & loud"})
	require.NoError(t, err)
	assert.Equal(t, `<option name="s" selected>Slow</option><option name="f">Fast &amp; loud</option>`, out)

	_, err = MakeSelect([]string{"a"}, "a", []string{})
	assert.Error(t, err)

	assert.Equal(t, "<option selected>add</option>", Choices{Display: []string{"add"}}.Select("add"))
	assert.Equal(t, `<option name="f" selected>Fast</option>`, Choices{Display: []string{"Fast"}, Values: []string{"f"}}.Select("f"))
}
