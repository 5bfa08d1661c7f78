package session

import (
	"encoding/json"
	"fmt"
	"time"
)

// CurrentStateVersion is the version of the encoded state format.
const CurrentStateVersion = 1

// State is the replicated part of a session. Component trees are not
// replicated; pages are recorded by id, type and version so that a node
// restoring the session can report them as expired.
type State struct {
	ID         string                     `json:"id"`
	CreatedAt  time.Time                  `json:"created_at"`
	LastAccess time.Time                  `json:"last_access"`
	Values     map[string]json.RawMessage `json:"values,omitempty"`
	PageMaps   []PageMapState             `json:"page_maps,omitempty"`
	Version    int                        `json:"version"`
}

// PageMapState summarises one page map.
type PageMapState struct {
	Name     string      `json:"name"`
	MaxPages int         `json:"max_pages"`
	Pages    []PageState `json:"pages,omitempty"`
}

// PageState summarises one page, least recently used first.
type PageState struct {
	ID      int    `json:"id"`
	Type    string `json:"type"`
	Version int    `json:"version"`
}

// Encode serializes st.
func Encode(st *State) ([]byte, error) {
	st.Version = CurrentStateVersion
	return json.Marshal(st)
}

// Decode parses state written by Encode.
func Decode(data []byte) (*State, error) {
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("session: decode state: %w", err)
	}
	if st.Version > CurrentStateVersion {
		return nil, fmt.Errorf("session: state version %d is newer than %d", st.Version, CurrentStateVersion)
	}
	return &st, nil
}
