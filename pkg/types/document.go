package types

import "encoding/json"

// StoredCommand is the persisted shape of a dynamic command inside a tenant
// document.
type StoredCommand struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

// TenantDocument is the per-tenant persisted document. A tenant's document
// may carry settings outside the command engine's concern; those fields are
// kept verbatim in Extra so a read-modify-write cycle never drops them.
type TenantDocument struct {
	DynamicCommands map[string]StoredCommand
	Extra           map[string]json.RawMessage
}

const dynamicCommandsKey = "dynamic_commands"

// NewTenantDocument returns an empty document, the shape used when a tenant
// has no commands yet.
func NewTenantDocument() *TenantDocument {
	return &TenantDocument{DynamicCommands: make(map[string]StoredCommand)}
}

// Clone returns a deep copy safe to mutate independently of the receiver.
func (d *TenantDocument) Clone() *TenantDocument {
	out := &TenantDocument{
		DynamicCommands: make(map[string]StoredCommand, len(d.DynamicCommands)),
	}
	for name, cmd := range d.DynamicCommands {
		out.DynamicCommands[name] = cmd
	}
	if d.Extra != nil {
		out.Extra = make(map[string]json.RawMessage, len(d.Extra))
		for k, v := range d.Extra {
			raw := make(json.RawMessage, len(v))
			copy(raw, v)
			out.Extra[k] = raw
		}
	}
	return out
}

// MarshalJSON flattens the document back to its wire shape, merging the
// dynamic_commands map with any preserved foreign fields.
func (d TenantDocument) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(d.Extra)+1)
	for k, v := range d.Extra {
		out[k] = v
	}
	cmds := d.DynamicCommands
	if cmds == nil {
		cmds = map[string]StoredCommand{}
	}
	raw, err := json.Marshal(cmds)
	if err != nil {
		return nil, err
	}
	out[dynamicCommandsKey] = raw
	return json.Marshal(out)
}

// UnmarshalJSON splits the wire document into the commands map and the
// foreign fields it must round-trip.
func (d *TenantDocument) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	d.DynamicCommands = make(map[string]StoredCommand)
	if cmds, ok := raw[dynamicCommandsKey]; ok {
		if err := json.Unmarshal(cmds, &d.DynamicCommands); err != nil {
			return err
		}
		delete(raw, dynamicCommandsKey)
	}
	if len(raw) > 0 {
		d.Extra = raw
	} else {
		d.Extra = nil
	}
	return nil
}
