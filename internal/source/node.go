package source

import (
	"crypto/md5"
	"encoding/hex"
	"sync"
)

// Node is one dataset discovered by a source's path enumeration. Its
// identity is derived from the owning source and the path, so repeated
// enumeration of the same path always lands on the same node.
//
// The immutable fields (SourceID, Path, DataID) are set at construction.
// The mutable ones are written by session and cache operations from
// multiple request goroutines and are guarded by mu.
type Node struct {
	SourceID string
	Path     string
	DataID   string

	mu sync.Mutex

	visible   bool
	sortValue int

	viewerURL       string
	chartsURL       string
	describeURL     string
	correlationsURL string

	errMsg string

	// lastCachedAt is the data artifact's mtime in unix millis,
	// 0 when no artifact exists.
	lastCachedAt int64
}

// DeriveID builds a stable hex id from the given parts. Source ids hash
// the package path; node ids hash source id plus path.
func DeriveID(parts ...string) string {
	h := md5.New()
	for _, p := range parts {
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func newNode(sourceID, path string, sortValue int) *Node {
	return &Node{
		SourceID:  sourceID,
		Path:      path,
		DataID:    DeriveID(sourceID, path),
		visible:   true,
		sortValue: sortValue,
	}
}

// SetViewerURLs records the session endpoints after a successful launch.
func (n *Node) SetViewerURLs(main, charts, describe, correlations string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.viewerURL = main
	n.chartsURL = charts
	n.describeURL = describe
	n.correlationsURL = correlations
}

// ClearViewerURLs drops the session endpoints after shutdown.
func (n *Node) ClearViewerURLs() {
	n.SetViewerURLs("", "", "", "")
}

// ViewerURL returns the main session endpoint, empty when no session
// is running.
func (n *Node) ViewerURL() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.viewerURL
}

// SetError records a user-facing failure message on the node. Empty
// clears it.
func (n *Node) SetError(msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.errMsg = msg
}

// SetLastCachedAt records the data artifact timestamp, 0 for none.
func (n *Node) SetLastCachedAt(millis int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.lastCachedAt = millis
}

// SortValue returns the node's ordering rank.
func (n *Node) SortValue() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sortValue
}
