package compiler

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lithoslog/lithos/internal/engine"
	"github.com/lithoslog/lithos/internal/schema"
	"github.com/lithoslog/lithos/internal/value"
)

// chainSchema builds a schema whose VALUE_SET rules form the given
// source -> target edges over string fields.
func chainSchema(edges [][2]string) *schema.Schema {
	s := &schema.Schema{
		Name:   "chains",
		Fields: map[string]*schema.Field{},
	}
	addField := func(id string) {
		if _, ok := s.Fields[id]; ok {
			return
		}
		s.Fields[id] = &schema.Field{ID: id, Type: schema.TypeString, Visible: true, Enabled: true}
		s.Order = append(s.Order, id)
	}
	for _, edge := range edges {
		addField(edge[0])
		addField(edge[1])
		s.Controls = append(s.Controls, schema.ControlRule{
			Source:  edge[0],
			Target:  edge[1],
			Effect:  schema.EffectValueSet,
			Mapping: map[string]value.Value{"on": value.Str("on")},
		})
	}
	return s
}

func TestAnalyzeChains_ShortDAGIsClean(t *testing.T) {
	s := chainSchema([][2]string{{"a", "b"}, {"b", "c"}})
	assert.Nil(t, AnalyzeChains(s))
}

func TestAnalyzeChains_NoValueSetRules(t *testing.T) {
	s := chainSchema(nil)
	s.Fields["a"] = &schema.Field{ID: "a", Type: schema.TypeString}
	s.Fields["b"] = &schema.Field{ID: "b", Type: schema.TypeString}
	s.Controls = []schema.ControlRule{{
		Source: "a", Target: "b", Effect: schema.EffectVisibility,
		Mapping: map[string]value.Value{"x": value.Bool(false)},
	}}
	assert.Nil(t, AnalyzeChains(s), "flag effects never chain")
}

func TestAnalyzeChains_CycleWarning(t *testing.T) {
	s := chainSchema([][2]string{{"a", "b"}, {"b", "a"}})

	warnings := AnalyzeChains(s)
	require.Len(t, warnings, 1)
	assert.Equal(t, "warning", warnings[0].Level)
	assert.Equal(t, []string{"a", "b", "a"}, warnings[0].Path)
	assert.Contains(t, warnings[0].Message, "cycle")
}

func TestAnalyzeChains_SelfLoopWarning(t *testing.T) {
	s := chainSchema([][2]string{{"a", "a"}})

	warnings := AnalyzeChains(s)
	require.Len(t, warnings, 1)
	assert.Equal(t, []string{"a", "a"}, warnings[0].Path)
	assert.Contains(t, warnings[0].Message, "self-targeting")
}

func TestAnalyzeChains_DepthWarning(t *testing.T) {
	var edges [][2]string
	for i := 0; i <= engine.DefaultMaxDepth; i++ {
		edges = append(edges, [2]string{fmt.Sprintf("f%02d", i), fmt.Sprintf("f%02d", i+1)})
	}
	s := chainSchema(edges)

	warnings := AnalyzeChains(s)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0].Message, "depth bound")
	assert.Len(t, warnings[0].Path, engine.DefaultMaxDepth+2)
}

func TestAnalyzeChains_DepthAtBoundIsClean(t *testing.T) {
	var edges [][2]string
	for i := 0; i < engine.DefaultMaxDepth; i++ {
		edges = append(edges, [2]string{fmt.Sprintf("f%02d", i), fmt.Sprintf("f%02d", i+1)})
	}
	assert.Nil(t, AnalyzeChains(chainSchema(edges)))
}

func TestAnalyzeFormulaCycles(t *testing.T) {
	s := &schema.Schema{
		Name: "x",
		Fields: map[string]*schema.Field{
			"a": {ID: "a", Type: schema.TypeNumber, Formula: "{{b}} + 1"},
			"b": {ID: "b", Type: schema.TypeNumber, Formula: "{{a}} + 1"},
			"c": {ID: "c", Type: schema.TypeNumber, Formula: "{{a}} * 2"},
		},
		Order: []string{"a", "b", "c"},
	}

	warnings := AnalyzeFormulaCycles(s)
	require.Len(t, warnings, 1)
	assert.Equal(t, []string{"a", "b"}, warnings[0].Path)
	assert.Contains(t, warnings[0].Message, "never evaluate")
}

func TestAnalyzeFormulaCycles_CleanSchema(t *testing.T) {
	assert.Nil(t, AnalyzeFormulaCycles(validSchema()))
}

func TestAnalyzeFormulaCycles_ParseFailureIsNotACycle(t *testing.T) {
	s := &schema.Schema{
		Name: "x",
		Fields: map[string]*schema.Field{
			"a": {ID: "a", Type: schema.TypeNumber, Formula: "{{broken"},
		},
		Order: []string{"a"},
	}
	assert.Nil(t, AnalyzeFormulaCycles(s))
}
