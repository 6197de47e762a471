package source

// Descriptor is the inbound shape for creating or updating a source:
// display name plus the two script bodies. PackageName pins an existing
// package; empty means derive a fresh unique name from the display
// name. Interpreter overrides the configured default argv.
type Descriptor struct {
	Name        string   `json:"name"`
	PackageName string   `json:"packageName"`
	ListPaths   string   `json:"listPaths"`
	GetData     string   `json:"getData"`
	Interpreter []string `json:"interpreter,omitempty"`
}

// SerializedNode is the outbound shape of one node. Absent session
// endpoints, errors, and cache timestamps serialize as null.
type SerializedNode struct {
	SourceID        string  `json:"sourceId"`
	Path            string  `json:"path"`
	DataID          string  `json:"dataId"`
	ViewerURL       *string `json:"viewerUrl"`
	ChartsURL       *string `json:"chartsUrl"`
	DescribeURL     *string `json:"describeUrl"`
	CorrelationsURL *string `json:"correlationsUrl"`
	Error           *string `json:"error"`
	Visible         bool    `json:"visible"`
	SortValue       int     `json:"sortValue"`
	LastCachedAt    *int64  `json:"lastCachedAt"`
}

// SerializedSource is the outbound shape of one source, nodes keyed by
// data id.
type SerializedSource struct {
	ID               string                    `json:"id"`
	Name             string                    `json:"name"`
	PackageName      string                    `json:"packageName"`
	Nodes            map[string]SerializedNode `json:"nodes"`
	NodesFullyLoaded bool                      `json:"nodesFullyLoaded"`
	Error            *string                   `json:"error"`
	Visible          bool                      `json:"visible"`
	Editable         bool                      `json:"editable"`
	SortValue        int                       `json:"sortValue"`
	ListPaths        string                    `json:"listPaths"`
	GetData          string                    `json:"getData"`
}

// Serialize snapshots the node for transport.
func (n *Node) Serialize() SerializedNode {
	n.mu.Lock()
	defer n.mu.Unlock()
	sn := SerializedNode{
		SourceID:        n.SourceID,
		Path:            n.Path,
		DataID:          n.DataID,
		ViewerURL:       optional(n.viewerURL),
		ChartsURL:       optional(n.chartsURL),
		DescribeURL:     optional(n.describeURL),
		CorrelationsURL: optional(n.correlationsURL),
		Error:           optional(n.errMsg),
		Visible:         n.visible,
		SortValue:       n.sortValue,
	}
	if n.lastCachedAt != 0 {
		at := n.lastCachedAt
		sn.LastCachedAt = &at
	}
	return sn
}

// Serialize snapshots the source and its materialized nodes.
func (s *DataSource) Serialize() SerializedSource {
	s.mu.Lock()
	nodes := make([]*Node, 0, len(s.order))
	for _, id := range s.order {
		nodes = append(nodes, s.nodes[id])
	}
	out := SerializedSource{
		ID:               s.id,
		Name:             s.name,
		PackageName:      s.packageName,
		Nodes:            make(map[string]SerializedNode, len(nodes)),
		NodesFullyLoaded: s.fullyLoaded,
		Error:            optional(s.errMsg),
		Visible:          s.visible,
		Editable:         s.editable,
		SortValue:        s.sortValue,
		ListPaths:        s.listPathsCode,
		GetData:          s.getDataCode,
	}
	s.mu.Unlock()

	// Node locks are taken outside s.mu to keep lock ordering flat.
	for _, n := range nodes {
		out.Nodes[n.DataID] = n.Serialize()
	}
	return out
}

// SerializeAll snapshots every registered source in registration order.
func (r *Registry) SerializeAll() []SerializedSource {
	sources := r.List()
	out := make([]SerializedSource, 0, len(sources))
	for _, src := range sources {
		out = append(out, src.Serialize())
	}
	return out
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
