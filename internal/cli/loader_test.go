package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lithoslog/lithos/internal/schema"
	"github.com/lithoslog/lithos/internal/value"
)

func TestLoadSchemaDir(t *testing.T) {
	s, err := LoadSchemaDir(filepath.Join("testdata", "schema"))
	require.NoError(t, err)
	assert.Equal(t, "borehole_log", s.Name)
	assert.Len(t, s.Fields, 6)
	assert.Len(t, s.Controls, 2)
}

func TestLoadSchemaDir_NotFound(t *testing.T) {
	_, err := LoadSchemaDir(filepath.Join("testdata", "nope"))
	require.Error(t, err)
	assert.Equal(t, ErrCodeNotFound, err.(*LoadError).Code)
}

func TestLoadSchemaDir_NoCUEFiles(t *testing.T) {
	_, err := LoadSchemaDir(t.TempDir())
	require.Error(t, err)
	assert.Equal(t, ErrCodeNoFiles, err.(*LoadError).Code)
}

func TestLoadSchemaDir_NoSchemaDeclared(t *testing.T) {
	dir := t.TempDir()
	err := os.WriteFile(filepath.Join(dir, "other.cue"), []byte("package other\n\nx: 1\n"), 0644)
	require.NoError(t, err)

	_, err = LoadSchemaDir(dir)
	require.Error(t, err)
	lerr := err.(*LoadError)
	assert.Equal(t, ErrCodeBuildFailed, lerr.Code)
	assert.Contains(t, lerr.Message, "no top-level schema")
}

func TestLoadRecord(t *testing.T) {
	s, err := LoadSchemaDir(filepath.Join("testdata", "schema"))
	require.NoError(t, err)

	values, err := LoadRecord(filepath.Join("testdata", "records", "borehole.yaml"), s)
	require.NoError(t, err)
	assert.Equal(t, "2.4", value.Canonical(values["depth_top"]))
	assert.Equal(t, "10.15", value.Canonical(values["depth_base"]))
	assert.Equal(t, value.Str("SPT"), values["method"])
}

func TestLoadRecord_RejectsUnknownField(t *testing.T) {
	s, err := LoadSchemaDir(filepath.Join("testdata", "schema"))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("ghost: 1\n"), 0644))

	_, err = LoadRecord(path, s)
	require.Error(t, err)
	lerr := err.(*LoadError)
	assert.Equal(t, ErrCodeBadRecord, lerr.Code)
	assert.Contains(t, lerr.Message, `"ghost"`)
}

func TestLoadRecord_RejectsNestedValues(t *testing.T) {
	s, err := LoadSchemaDir(filepath.Join("testdata", "schema"))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "nested.yaml")
	require.NoError(t, os.WriteFile(path, []byte("note:\n  deep: 1\n"), 0644))

	_, err = LoadRecord(path, s)
	require.Error(t, err)
	assert.Equal(t, ErrCodeBadRecord, err.(*LoadError).Code)
}

func setArgSchema() *schema.Schema {
	return &schema.Schema{
		Name: "s",
		Fields: map[string]*schema.Field{
			"depth": {ID: "depth", Type: schema.TypeNumber},
			"name":  {ID: "name", Type: schema.TypeString},
			"wet":   {ID: "wet", Type: schema.TypeBool},
		},
		Order: []string{"depth", "name", "wet"},
	}
}

func TestParseSetArg(t *testing.T) {
	s := setArgSchema()

	fieldID, v, err := ParseSetArg("depth=10.5", s)
	require.NoError(t, err)
	assert.Equal(t, "depth", fieldID)
	assert.Equal(t, "10.5", value.Canonical(v))

	_, v, err = ParseSetArg("name=BH-7", s)
	require.NoError(t, err)
	assert.Equal(t, value.Str("BH-7"), v)

	_, v, err = ParseSetArg("wet=true", s)
	require.NoError(t, err)
	assert.Equal(t, value.Bool(true), v)

	// "null" clears a field of any type.
	_, v, err = ParseSetArg("depth=null", s)
	require.NoError(t, err)
	assert.Equal(t, value.Null{}, v)

	// Values may contain '='.
	_, v, err = ParseSetArg("name=a=b", s)
	require.NoError(t, err)
	assert.Equal(t, value.Str("a=b"), v)
}

func TestParseSetArg_Malformed(t *testing.T) {
	s := setArgSchema()
	for _, arg := range []string{"depth", "=10", "", "ghost=1", "depth=abc", "wet=yes"} {
		_, _, err := ParseSetArg(arg, s)
		require.Error(t, err, "arg %q", arg)
		assert.Equal(t, ErrCodeBadSet, err.(*LoadError).Code, "arg %q", arg)
	}
}
