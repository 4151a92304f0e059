package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateIntentPacketAccepts(t *testing.T) {
	doc, verr := ValidateIntentPacket([]byte(`{
		"kind": "intent",
		"intent_type": "create_task",
		"confidence": 0.92,
		"fields": {"title": "Buy milk"},
		"actor_id": "user-1",
		"trace_id": "abc"
	}`))
	require.Nil(t, verr)
	assert.Equal(t, "create_task", doc["intent_type"])
}

func TestValidateIntentPacketMinimal(t *testing.T) {
	_, verr := ValidateIntentPacket([]byte(`{"kind": "intent"}`))
	assert.Nil(t, verr)
}

func TestValidateIntentPacketBadJSON(t *testing.T) {
	_, verr := ValidateIntentPacket([]byte(`{"kind": `))
	require.NotNil(t, verr)
	assert.Equal(t, "bad_json", verr.Code)
}

func TestValidateIntentPacketNotAnObject(t *testing.T) {
	_, verr := ValidateIntentPacket([]byte(`[1, 2, 3]`))
	require.NotNil(t, verr)
	assert.Equal(t, "schema_validation_failed", verr.Code)
}

func TestValidateIntentPacketWrongKind(t *testing.T) {
	_, verr := ValidateIntentPacket([]byte(`{"kind": "action"}`))
	require.NotNil(t, verr)
	assert.Equal(t, "schema_validation_failed", verr.Code)
	assert.NotEmpty(t, verr.Fields)
}

func TestValidateIntentPacketVersionGate(t *testing.T) {
	for _, bad := range []string{"2.0", "0.9", "not-a-version"} {
		body := `{"kind": "intent", "schema_version": "` + bad + `"}`
		_, verr := ValidateIntentPacket([]byte(body))
		require.NotNil(t, verr, bad)
		assert.Equal(t, "unsupported_schema_version", verr.Code, bad)
	}
}

func TestValidateIntentPacketAcceptedVersions(t *testing.T) {
	for _, v := range []string{"1.0", "1.1", "1.12.3"} {
		body := `{"kind": "intent", "schema_version": "` + v + `"}`
		_, verr := ValidateIntentPacket([]byte(body))
		assert.Nil(t, verr, v)
	}
}

func TestValidateIntentPacketConfidenceRange(t *testing.T) {
	_, verr := ValidateIntentPacket([]byte(`{"kind": "intent", "confidence": 1.5}`))
	require.NotNil(t, verr)
	assert.Equal(t, "schema_validation_failed", verr.Code)
}

func TestValidateIntentPacketExtraFieldsAllowed(t *testing.T) {
	_, verr := ValidateIntentPacket([]byte(`{
		"kind": "intent",
		"intent_type": "create_task",
		"conversation_id": "conv-1",
		"message_id": "msg-7"
	}`))
	assert.Nil(t, verr)
}

func TestValidateActionPacket(t *testing.T) {
	_, verr := ValidateActionPacket([]byte(`{
		"kind": "action",
		"action": "notion.tasks.create",
		"payload": {"title": "x"}
	}`))
	assert.Nil(t, verr)

	_, verr = ValidateActionPacket([]byte(`{"kind": "intent", "action": "x"}`))
	require.NotNil(t, verr)
	assert.Equal(t, "schema_validation_failed", verr.Code)
}

func TestValidateAnswerPacket(t *testing.T) {
	_, verr := ValidateAnswerPacket([]byte(`{"choice_id": "proj-1"}`))
	assert.Nil(t, verr)

	_, verr = ValidateAnswerPacket([]byte(`{"answer_text": "tomorrow"}`))
	assert.Nil(t, verr)

	_, verr = ValidateAnswerPacket([]byte(`{}`))
	require.NotNil(t, verr)
	assert.Equal(t, "schema_validation_failed", verr.Code)
}
