package notify

import (
	"datadesk/internal/settings"
	"datadesk/internal/source"
)

// Actions are the typed payloads the front end switches on. Each
// carries its own discriminator so the payload is self-describing.

// UpdateSettings pushes a fresh settings snapshot.
type UpdateSettings struct {
	Type     string              `json:"type"`
	Settings settings.Serialized `json:"settings"`
}

// NewUpdateSettings builds an UPDATE_SETTINGS action.
func NewUpdateSettings(s settings.Serialized) UpdateSettings {
	return UpdateSettings{Type: "UPDATE_SETTINGS", Settings: s}
}

// AddSources announces newly registered sources.
type AddSources struct {
	Type    string                    `json:"type"`
	Sources []source.SerializedSource `json:"sources"`
}

// NewAddSources builds an ADD_SOURCES action.
func NewAddSources(sources []source.SerializedSource) AddSources {
	return AddSources{Type: "ADD_SOURCES", Sources: sources}
}

// UpdateSource pushes one source's full state.
type UpdateSource struct {
	Type   string                  `json:"type"`
	Source source.SerializedSource `json:"source"`
}

// NewUpdateSource builds an UPDATE_SOURCE action.
func NewUpdateSource(s source.SerializedSource) UpdateSource {
	return UpdateSource{Type: "UPDATE_SOURCE", Source: s}
}

// SetSourceUpdating toggles a source's in-flight indicator.
type SetSourceUpdating struct {
	Type     string `json:"type"`
	SourceID string `json:"sourceId"`
	Updating bool   `json:"updating"`
}

// NewSetSourceUpdating builds a SET_SOURCE_UPDATING action.
func NewSetSourceUpdating(sourceID string, updating bool) SetSourceUpdating {
	return SetSourceUpdating{Type: "SET_SOURCE_UPDATING", SourceID: sourceID, Updating: updating}
}

// UpdateNode pushes one node's full state.
type UpdateNode struct {
	Type string                `json:"type"`
	Node source.SerializedNode `json:"node"`
}

// NewUpdateNode builds an UPDATE_NODE action.
func NewUpdateNode(n source.SerializedNode) UpdateNode {
	return UpdateNode{Type: "UPDATE_NODE", Node: n}
}

// SetNodeUpdating toggles a node's in-flight indicator.
type SetNodeUpdating struct {
	Type     string `json:"type"`
	DataID   string `json:"dataId"`
	Updating bool   `json:"updating"`
}

// NewSetNodeUpdating builds a SET_NODE_UPDATING action.
func NewSetNodeUpdating(dataID string, updating bool) SetNodeUpdating {
	return SetNodeUpdating{Type: "SET_NODE_UPDATING", DataID: dataID, Updating: updating}
}
