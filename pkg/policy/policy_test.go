package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilGuardAdmitsEverything(t *testing.T) {
	g, err := Compile("")
	require.NoError(t, err)
	require.Nil(t, g)
	assert.True(t, g.Admit(Input{IntentType: "create_task"}))
}

func TestGuardAdmitsAndDenies(t *testing.T) {
	g, err := Compile(`intent_type != "update_task" || confidence >= 0.9`)
	require.NoError(t, err)

	assert.True(t, g.Admit(Input{IntentType: "create_task", Confidence: 0.2}))
	assert.True(t, g.Admit(Input{IntentType: "update_task", Confidence: 0.95}))
	assert.False(t, g.Admit(Input{IntentType: "update_task", Confidence: 0.5}))
}

func TestGuardSeesFields(t *testing.T) {
	g, err := Compile(`!("priority" in fields) || fields["priority"] != "urgent"`)
	require.NoError(t, err)

	assert.True(t, g.Admit(Input{Fields: map[string]any{"title": "x"}}))
	assert.False(t, g.Admit(Input{Fields: map[string]any{"priority": "urgent"}}))
	assert.True(t, g.Admit(Input{}))
}

func TestGuardCompileErrors(t *testing.T) {
	_, err := Compile(`intent_type ==`)
	assert.Error(t, err)

	_, err = Compile(`intent_type`)
	assert.Error(t, err)
}

func TestGuardFailsClosedOnEvalError(t *testing.T) {
	g, err := Compile(`fields["missing"] == "x"`)
	require.NoError(t, err)

	assert.False(t, g.Admit(Input{Fields: map[string]any{}}))
}
