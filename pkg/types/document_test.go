package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTenantDocumentRoundTrip(t *testing.T) {
	in := []byte(`{
		"dynamic_commands": {
			"ping": {"code": "function run(ctx) return 'pong' end", "description": "pings"}
		},
		"join_channel": "12345",
		"moderation": {"enabled": true}
	}`)

	var doc TenantDocument
	require.NoError(t, json.Unmarshal(in, &doc))

	require.Len(t, doc.DynamicCommands, 1)
	assert.Equal(t, "pings", doc.DynamicCommands["ping"].Description)
	require.Len(t, doc.Extra, 2)

	doc.DynamicCommands["echo"] = StoredCommand{Code: "function run(ctx) end", Description: "echoes"}

	out, err := json.Marshal(doc)
	require.NoError(t, err)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(out, &raw))

	// Foreign tenant settings survive the read-modify-write cycle.
	assert.Contains(t, raw, "join_channel")
	assert.Contains(t, raw, "moderation")

	var back TenantDocument
	require.NoError(t, json.Unmarshal(out, &back))
	assert.Len(t, back.DynamicCommands, 2)
}

func TestTenantDocumentEmpty(t *testing.T) {
	doc := NewTenantDocument()
	out, err := json.Marshal(doc)
	require.NoError(t, err)
	assert.JSONEq(t, `{"dynamic_commands":{}}`, string(out))

	var back TenantDocument
	require.NoError(t, json.Unmarshal([]byte(`{}`), &back))
	assert.NotNil(t, back.DynamicCommands)
	assert.Empty(t, back.Extra)
}

func TestTenantDocumentClone(t *testing.T) {
	doc := NewTenantDocument()
	doc.DynamicCommands["ping"] = StoredCommand{Code: "a", Description: "b"}
	doc.Extra = map[string]json.RawMessage{"settings": json.RawMessage(`{"x":1}`)}

	clone := doc.Clone()
	clone.DynamicCommands["ping"] = StoredCommand{Code: "changed"}
	clone.Extra["settings"] = json.RawMessage(`{}`)

	assert.Equal(t, "a", doc.DynamicCommands["ping"].Code)
	assert.Equal(t, json.RawMessage(`{"x":1}`), doc.Extra["settings"])
}
