// Package viewer is the contract with the external dataframe viewer.
// The console never renders data itself; it hands datasets to a viewer
// service keyed by data id and links the user to the viewer's pages.
package viewer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"datadesk/internal/fault"
	"datadesk/internal/frame"
)

// URLs are the viewer pages for one loaded dataset.
type URLs struct {
	Main         string
	Charts       string
	Describe     string
	Correlations string
}

// Service is the narrow viewer contract. Implementations must be safe
// for concurrent use.
type Service interface {
	// Alive reports whether the viewer currently holds the dataset.
	Alive(ctx context.Context, dataID string) bool

	// Launch hands the dataset to the viewer under the given id.
	// Re-launching an id the viewer already holds is allowed.
	Launch(ctx context.Context, dataID string, f *frame.Frame) error

	// Kill drops the dataset from the viewer.
	Kill(ctx context.Context, dataID string) error

	// PageURLs returns the user-facing viewer pages for the id.
	PageURLs(dataID string) URLs
}

// Client talks to a viewer service over HTTP. Instance management goes
// to the internal root; the page URLs handed to browsers use the
// external root, which differs when the viewer sits behind a proxy.
type Client struct {
	internalRoot string
	externalRoot string

	// AllowCellEdits is forwarded with every launch.
	AllowCellEdits bool

	httpc *http.Client
}

// NewClient builds a Client. externalRoot falls back to internalRoot.
func NewClient(internalRoot, externalRoot string, allowCellEdits bool) *Client {
	if externalRoot == "" {
		externalRoot = internalRoot
	}
	return &Client{
		internalRoot:   internalRoot,
		externalRoot:   externalRoot,
		AllowCellEdits: allowCellEdits,
		httpc:          &http.Client{Timeout: 30 * time.Second},
	}
}

type launchRequest struct {
	Data           *frame.Frame `json:"data"`
	AllowCellEdits bool         `json:"allowCellEdits"`
}

// Alive probes the instance endpoint. Any transport or non-200 answer
// counts as not alive; a probe must never fail a caller.
func (c *Client) Alive(ctx context.Context, dataID string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.instanceURL(dataID), nil)
	if err != nil {
		return false
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Launch posts the dataset to the viewer.
func (c *Client) Launch(ctx context.Context, dataID string, f *frame.Frame) error {
	body, err := json.Marshal(launchRequest{Data: f, AllowCellEdits: c.AllowCellEdits})
	if err != nil {
		return fault.Wrap(fault.External, err, "encode viewer payload")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.instanceURL(dataID), bytes.NewReader(body))
	if err != nil {
		return fault.Wrap(fault.External, err, "build viewer request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fault.Wrap(fault.External, err, "viewer unreachable")
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fault.New(fault.External, "viewer launch returned %s", resp.Status)
	}
	return nil
}

// Kill deletes the instance. A viewer that no longer holds the id is
// success, not failure.
func (c *Client) Kill(ctx context.Context, dataID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.instanceURL(dataID), nil)
	if err != nil {
		return fault.Wrap(fault.External, err, "build viewer request")
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return fault.Wrap(fault.External, err, "viewer unreachable")
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusNotFound {
		return fault.New(fault.External, "viewer kill returned %s", resp.Status)
	}
	return nil
}

// PageURLs builds the four viewer pages from the external root.
func (c *Client) PageURLs(dataID string) URLs {
	return URLs{
		Main:         c.pageURL("/dtale/main/", dataID),
		Charts:       c.pageURL("/dtale/charts/", dataID),
		Describe:     c.pageURL("/dtale/popup/describe/", dataID),
		Correlations: c.pageURL("/dtale/popup/correlations/", dataID),
	}
}

func (c *Client) instanceURL(dataID string) string {
	return fmt.Sprintf("%s/instances/%s", c.internalRoot, url.PathEscape(dataID))
}

func (c *Client) pageURL(prefix, dataID string) string {
	return c.externalRoot + prefix + url.PathEscape(dataID)
}
