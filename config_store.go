// Copyright (C) 2022 myl7
// SPDX-License-Identifier: Apache-2.0

package pbft

// configEntry pairs a configuration with whether it is currently enabled —
// acceptable as the implied configuration of a NEW-VIEW.
type configEntry struct {
	config  *Configuration
	enabled bool
}

// ConfigurationStore is the ordered collection of configurations a replica
// knows about. Exactly one entry may be "current" at a time.
type ConfigurationStore struct {
	byIndex      map[uint64]*configEntry
	hashToIndex  map[string]uint64
	currentIndex uint64
	crypto       CryptoProvider
}

// NewConfigurationStore returns an empty store. crypto is used to compute
// configuration hashes for the hash-keyed lookups.
func NewConfigurationStore(crypto CryptoProvider) *ConfigurationStore {
	return &ConfigurationStore{
		byIndex:     make(map[uint64]*configEntry),
		hashToIndex: make(map[string]uint64),
		crypto:      crypto,
	}
}

// Add inserts a configuration, initially not enabled. Re-adding an already
// known configuration (by hash) is a no-op that reports false.
func (s *ConfigurationStore) Add(c *Configuration) bool {
	h := c.Hash(s.crypto)
	if _, ok := s.hashToIndex[h]; ok {
		return false
	}
	s.byIndex[c.Index()] = &configEntry{config: c, enabled: false}
	s.hashToIndex[h] = c.Index()
	return true
}

// Get returns the configuration with the given hash, or nil.
func (s *ConfigurationStore) Get(hash string) *Configuration {
	idx, ok := s.hashToIndex[hash]
	if !ok {
		return nil
	}
	return s.byIndex[idx].config
}

// Enable sets or clears the enabled flag for the configuration with hash.
func (s *ConfigurationStore) Enable(hash string, val bool) bool {
	idx, ok := s.hashToIndex[hash]
	if !ok {
		return false
	}
	s.byIndex[idx].enabled = val
	return true
}

// IsEnabled reports whether the configuration with hash is enabled.
func (s *ConfigurationStore) IsEnabled(hash string) bool {
	idx, ok := s.hashToIndex[hash]
	if !ok {
		return false
	}
	return s.byIndex[idx].enabled
}

// SetCurrent makes the configuration with hash the current one. It fails if
// no such configuration exists or it is not enabled: only an enabled
// configuration may become current.
func (s *ConfigurationStore) SetCurrent(hash string) bool {
	idx, ok := s.hashToIndex[hash]
	if !ok || !s.byIndex[idx].enabled {
		return false
	}
	s.currentIndex = idx
	return true
}

// SetCurrentByIndex is SetCurrent's index-keyed counterpart.
func (s *ConfigurationStore) SetCurrentByIndex(index uint64) bool {
	e, ok := s.byIndex[index]
	if !ok || !e.enabled {
		return false
	}
	s.currentIndex = index
	return true
}

// Current returns the current configuration, or nil if none has been set.
func (s *ConfigurationStore) Current() *Configuration {
	e, ok := s.byIndex[s.currentIndex]
	if !ok {
		return nil
	}
	return e.config
}

// RemovePriorTo drops every entry with index < index, garbage-collecting
// superseded configurations once a newer one has committed.
func (s *ConfigurationStore) RemovePriorTo(index uint64) {
	for idx, e := range s.byIndex {
		if idx < index {
			h := e.config.Hash(s.crypto)
			delete(s.hashToIndex, h)
			delete(s.byIndex, idx)
		}
	}
}
