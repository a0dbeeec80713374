package server

import (
	effectcatalog "rift-and-ruin/server/effects/catalog"
)

// EffectCatalogSnapshot returns the wire metadata for the active effect
// catalog, preferring the resolver the simulation actually runs with. Nil
// when catalog replication is disabled or no catalog could be loaded.
func (h *Hub) EffectCatalogSnapshot() map[string]effectCatalogMetadata {
	if h == nil || !h.sendEffectCatalog {
		return nil
	}
	resolver := h.catalog
	h.mu.Lock()
	if h.world != nil && h.world.effectManager != nil && h.world.effectManager.catalog != nil {
		resolver = h.world.effectManager.catalog
	}
	h.mu.Unlock()
	return snapshotEffectCatalog(resolver)
}

// snapshotEffectCatalog copies the resolver's entries into the wire metadata
// map shared with joining clients.
func snapshotEffectCatalog(resolver *effectcatalog.Resolver) map[string]effectCatalogMetadata {
	if resolver == nil {
		return nil
	}
	entries := resolver.Entries()
	if len(entries) == 0 {
		return nil
	}
	snapshot := make(map[string]effectCatalogMetadata, len(entries))
	for id, entry := range entries {
		if id == "" {
			continue
		}
		snapshot[id] = newEffectCatalogMetadata(entry)
	}
	if len(snapshot) == 0 {
		return nil
	}
	return snapshot
}
