// Copyright (C) 2025 Coastline AI (oss@coastlineai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package session

import (
	"sync"

	"github.com/google/uuid"
)

// Store is the process-local session registry. Sessions live for the
// process lifetime or until explicitly deleted; there is no
// persistence layer behind it.
type Store struct {
	mu                 sync.RWMutex
	sessions           map[string]*Session
	defaultInstruction string
}

// NewStore creates a registry whose sessions start with the given
// default system instruction (DefaultSystemInstruction when empty).
func NewStore(defaultInstruction string) *Store {
	return &Store{
		sessions:           make(map[string]*Session),
		defaultInstruction: defaultInstruction,
	}
}

// Create registers a new session with a generated UUID.
func (st *Store) Create() *Session {
	s := newSession(uuid.New().String(), st.defaultInstruction)
	st.mu.Lock()
	defer st.mu.Unlock()
	st.sessions[s.ID()] = s
	return s
}

// Get looks up a session by ID.
func (st *Store) Get(id string) (*Session, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.sessions[id]
	return s, ok
}

// Delete tears down a session. Returns false if the ID was unknown.
func (st *Store) Delete(id string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, ok := st.sessions[id]; !ok {
		return false
	}
	delete(st.sessions, id)
	return true
}

// Count returns the number of live sessions.
func (st *Store) Count() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}
