package server

import (
	"encoding/json"

	effectcatalog "rift-and-ruin/server/effects/catalog"
	effectcontract "rift-and-ruin/server/effects/contract"
)

type effectCatalogMetadata struct {
	ContractID      string
	Definition      *effectcontract.EffectDefinition
	Blocks          map[string]json.RawMessage
	ManagedByClient bool
}

func newEffectCatalogMetadata(entry effectcatalog.Entry) effectCatalogMetadata {
	meta := effectCatalogMetadata{
		ContractID: entry.ContractID,
		Blocks:     cloneRawMessageMap(entry.Blocks),
	}
	if entry.Definition != nil {
		defCopy := *entry.Definition
		meta.Definition = &defCopy
		meta.ManagedByClient = defCopy.Client.ManagedByClient
	}
	return meta
}

func (meta effectCatalogMetadata) clone() effectCatalogMetadata {
	cloned := effectCatalogMetadata{
		ContractID:      meta.ContractID,
		Blocks:          cloneRawMessageMap(meta.Blocks),
		ManagedByClient: meta.ManagedByClient,
	}
	if meta.Definition != nil {
		defCopy := *meta.Definition
		cloned.Definition = &defCopy
	}
	return cloned
}

func (meta effectCatalogMetadata) MarshalJSON() ([]byte, error) {
	payload := make(map[string]any, len(meta.Blocks)+3)
	payload["contractId"] = meta.ContractID
	if meta.Definition != nil {
		payload["definition"] = meta.Definition
	}
	if meta.ManagedByClient {
		payload["managedByClient"] = true
	}
	for key, raw := range meta.Blocks {
		payload[key] = cloneRawMessage(raw)
	}
	return json.Marshal(payload)
}

// UnmarshalJSON reverses MarshalJSON's flattening: the named fields are pulled
// out and every remaining key is treated as an opaque designer block.
func (meta *effectCatalogMetadata) UnmarshalJSON(data []byte) error {
	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	*meta = effectCatalogMetadata{}
	if raw, ok := fields["contractId"]; ok {
		if err := json.Unmarshal(raw, &meta.ContractID); err != nil {
			return err
		}
		delete(fields, "contractId")
	}
	if raw, ok := fields["definition"]; ok {
		def := &effectcontract.EffectDefinition{}
		if err := json.Unmarshal(raw, def); err != nil {
			return err
		}
		meta.Definition = def
		delete(fields, "definition")
	}
	if raw, ok := fields["managedByClient"]; ok {
		if err := json.Unmarshal(raw, &meta.ManagedByClient); err != nil {
			return err
		}
		delete(fields, "managedByClient")
	}
	if len(fields) > 0 {
		meta.Blocks = fields
	}
	return nil
}

func cloneRawMessageMap(src map[string]json.RawMessage) map[string]json.RawMessage {
	if len(src) == 0 {
		return nil
	}
	dst := make(map[string]json.RawMessage, len(src))
	for key, value := range src {
		dst[key] = cloneRawMessage(value)
	}
	return dst
}

func cloneRawMessage(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	cloned := make(json.RawMessage, len(raw))
	copy(cloned, raw)
	return cloned
}
