// Package settings holds the environment-derived configuration.
//
// A Settings value is constructed once in main() and passed down to every
// component that needs it. Nothing in this package is global; tests build
// their own values directly.
//
// Recognized environment variables (all optional):
//
//	DATADESK_ROOT_DIR                  storage root, default ~/.datadesk
//	DATADESK_ADDITIONAL_LOADERS_DIRS   comma-separated dirs or glob patterns
//	                                   scanned for packages at startup
//	DATADESK_EXCLUDE_DEFAULT_LOADERS   "true" to skip the built-in sources
//	DATADESK_DISABLE_ADD_DATA_SOURCES  hide/reject source creation
//	DATADESK_DISABLE_EDIT_DATA_SOURCES hide/reject source editing
//	DATADESK_DISABLE_EDIT_LAYOUT      hide/reject layout changes
//	DATADESK_DISABLE_PROFILE_REPORTS   disable profile report building
//	DATADESK_DISABLE_OPEN_BROWSER      don't open a browser tab on startup
//	DATADESK_DISABLE_CELL_EDITS        pass-through flag for the viewer
//	DATADESK_ENABLE_WEBSOCKET_CONNECTIONS  push state changes to clients
//	DATADESK_HOST, DATADESK_PORT, DATADESK_ROOT_URL
//	DATADESK_VIEWER_HOST, DATADESK_VIEWER_PORT, DATADESK_VIEWER_ROOT_URL
//	DATADESK_DEFAULT_INTERPRETER       interpreter for created packages,
//	                                   default "python3"
//	DATADESK_PROFILE_REPORT_COMMAND    report builder argv, space-separated
//	DATADESK_APP_TITLE                 branding string for the console
//
// A .env file in the working directory is honored before the environment
// is read.
package settings

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const envPrefix = "DATADESK_"

// Settings is the resolved configuration for one process.
type Settings struct {
	RootDir               string
	AdditionalLoadersDirs []string
	ExcludeDefaultLoaders bool

	DisableAddDataSources  bool
	DisableEditDataSources bool
	DisableEditLayout      bool
	DisableProfileReports  bool
	DisableOpenBrowser     bool
	DisableCellEdits       bool

	EnableWebsocketConnections bool

	Host    string
	Port    int
	rootURL string

	ViewerHost    string
	ViewerPort    int
	ViewerRootURL string

	DefaultInterpreter   string
	ProfileReportCommand []string

	AppTitle string
}

// Load builds Settings from the environment. A .env file in the working
// directory is merged in first (existing environment wins, matching
// godotenv semantics).
func Load() (*Settings, error) {
	// Missing .env is the normal case.
	_ = godotenv.Load()

	root := getenv("ROOT_DIR")
	if root == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("determine home directory: %w", err)
		}
		root = filepath.Join(home, ".datadesk")
	}

	port, err := envInt("PORT", 0)
	if err != nil {
		return nil, err
	}
	viewerPort, err := envInt("VIEWER_PORT", 0)
	if err != nil {
		return nil, err
	}

	s := &Settings{
		RootDir:               root,
		AdditionalLoadersDirs: splitList(getenv("ADDITIONAL_LOADERS_DIRS")),
		ExcludeDefaultLoaders: envBool("EXCLUDE_DEFAULT_LOADERS"),

		DisableAddDataSources:  envBool("DISABLE_ADD_DATA_SOURCES"),
		DisableEditDataSources: envBool("DISABLE_EDIT_DATA_SOURCES"),
		DisableEditLayout:      envBool("DISABLE_EDIT_LAYOUT"),
		DisableProfileReports:  envBool("DISABLE_PROFILE_REPORTS"),
		DisableOpenBrowser:     envBool("DISABLE_OPEN_BROWSER"),
		DisableCellEdits:       envBool("DISABLE_CELL_EDITS"),

		EnableWebsocketConnections: envBool("ENABLE_WEBSOCKET_CONNECTIONS"),

		Host:    defaulted(getenv("HOST"), "localhost"),
		Port:    port,
		rootURL: getenv("ROOT_URL"),

		ViewerHost:    getenv("VIEWER_HOST"),
		ViewerPort:    viewerPort,
		ViewerRootURL: getenv("VIEWER_ROOT_URL"),

		DefaultInterpreter:   defaulted(getenv("DEFAULT_INTERPRETER"), "python3"),
		ProfileReportCommand: splitCommand(getenv("PROFILE_REPORT_COMMAND")),

		AppTitle: defaulted(getenv("APP_TITLE"), "datadesk"),
	}

	return s, nil
}

// RootURL returns the externally visible base URL for the console.
// An explicit DATADESK_ROOT_URL override wins; otherwise it is built from
// host and port. Port 0 means "not yet bound" and is resolved by the
// server at listen time via SetPort.
func (s *Settings) RootURL() string {
	if s.rootURL != "" {
		return s.rootURL
	}
	return fmt.Sprintf("http://%s:%d", s.Host, s.Port)
}

// SetRootURL overrides the computed root URL. Used by tests and by main
// once an ephemeral port is bound.
func (s *Settings) SetRootURL(u string) { s.rootURL = u }

// SetPort records the port actually bound by the listener.
func (s *Settings) SetPort(port int) { s.Port = port }

// Serialized is the feature-flag snapshot sent to the front end.
type Serialized struct {
	AppTitle                   string `json:"appTitle"`
	DisableAddDataSources      bool   `json:"disableAddDataSources"`
	DisableEditDataSources     bool   `json:"disableEditDataSources"`
	DisableEditLayout          bool   `json:"disableEditLayout"`
	DisableProfileReports      bool   `json:"disableProfileReports"`
	EnableWebsocketConnections bool   `json:"enableWebsocketConnections"`
}

// Serialize returns the snapshot served at /settings/.
func (s *Settings) Serialize() Serialized {
	return Serialized{
		AppTitle:                   s.AppTitle,
		DisableAddDataSources:      s.DisableAddDataSources,
		DisableEditDataSources:     s.DisableEditDataSources,
		DisableEditLayout:          s.DisableEditLayout,
		DisableProfileReports:      s.DisableProfileReports,
		EnableWebsocketConnections: s.EnableWebsocketConnections,
	}
}

func getenv(name string) string {
	return strings.TrimSpace(os.Getenv(envPrefix + name))
}

func envBool(name string) bool {
	return strings.EqualFold(getenv(name), "true")
}

func envInt(name string, def int) (int, error) {
	v := getenv(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s%s: %w", envPrefix, name, err)
	}
	return n, nil
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func splitCommand(v string) []string {
	return strings.Fields(v)
}

func defaulted(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
