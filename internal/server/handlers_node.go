package server

import (
	"fmt"
	"text/template"
	"net/http"

	"datadesk/internal/fault"
	"datadesk/internal/notify"
	"datadesk/internal/source"
)

// findNode resolves the {nodeId} path segment, answering 404 itself on
// a miss.
func (s *Server) findNode(w http.ResponseWriter, r *http.Request) (*source.DataSource, *source.Node, bool) {
	dataID := r.PathValue("nodeId")
	src, n, ok := s.registry.FindNode(dataID)
	if !ok {
		s.respondError(w, r, fault.New(fault.NotFound, "no node with id %s", dataID))
	}
	return src, n, ok
}

func (s *Server) handleNodeView(w http.ResponseWriter, r *http.Request) {
	src, n, ok := s.findNode(w, r)
	if !ok {
		return
	}

	cid := clientID(r)
	s.hub.Broadcast(notify.NewSetNodeUpdating(n.DataID, true), cid)
	err := s.sessions.Launch(r.Context(), src, n)
	s.hub.Broadcast(notify.NewSetNodeUpdating(n.DataID, false), cid)

	ser := n.Serialize()
	s.hub.Broadcast(notify.NewUpdateNode(ser), cid)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, ser)
}

func (s *Server) handleNodeKill(w http.ResponseWriter, r *http.Request) {
	_, n, ok := s.findNode(w, r)
	if !ok {
		return
	}

	err := s.sessions.Kill(r.Context(), n)
	ser := n.Serialize()
	s.hub.Broadcast(notify.NewUpdateNode(ser), clientID(r))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, ser)
}

func (s *Server) handleNodeClearCache(w http.ResponseWriter, r *http.Request) {
	_, n, ok := s.findNode(w, r)
	if !ok {
		return
	}

	err := s.sessions.ClearCache(n)
	ser := n.Serialize()
	s.hub.Broadcast(notify.NewUpdateNode(ser), clientID(r))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, ser)
}

// profilePageTemplate is the interstitial served while a profile report
// builds. It kicks off the build and swaps in the finished report.
var profilePageTemplate = template.Must(template.New("profile").Parse(`<!doctype html>
<html>
<head>
<title>{{.Title}}</title>
<style>
body { font-family: sans-serif; margin: 4em; color: #333; }
#error { color: #b00; white-space: pre-wrap; }
</style>
</head>
<body>
<h2>{{.Title}}</h2>
<p id="status">Building profile report, this can take a while&hellip;</p>
<p id="error"></p>
<script>
fetch("{{.BuildURL}}").then(function (resp) {
  if (resp.ok) {
    window.location.replace("{{.ViewURL}}");
  } else {
    return resp.json().then(function (body) { throw new Error(body.error); });
  }
}).catch(function (err) {
  document.getElementById("status").textContent = "The report could not be built.";
  document.getElementById("error").textContent = err.message;
});
</script>
</body>
</html>
`))

func (s *Server) handleProfileReportPage(w http.ResponseWriter, r *http.Request) {
	if s.settings.DisableProfileReports {
		s.respondError(w, r, fault.New(fault.Permission, "profile reports are disabled"))
		return
	}
	src, n, ok := s.findNode(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	err := profilePageTemplate.Execute(w, struct {
		Title    string
		BuildURL string
		ViewURL  string
	}{
		Title:    fmt.Sprintf("%s - %s", src.Name(), n.Path),
		BuildURL: fmt.Sprintf("/node/build-profile-report/%s/", n.DataID),
		ViewURL:  fmt.Sprintf("/node/view-profile-report/%s/", n.DataID),
	})
	if err != nil {
		s.logger.Warn("render profile page", "error", err)
	}
}

func (s *Server) handleBuildProfileReport(w http.ResponseWriter, r *http.Request) {
	if s.settings.DisableProfileReports {
		s.respondError(w, r, fault.New(fault.Permission, "profile reports are disabled"))
		return
	}
	src, n, ok := s.findNode(w, r)
	if !ok {
		return
	}

	// The report builder reads the cached frame, so load it first.
	if _, err := s.sessions.Data(r.Context(), src, n, false); err != nil {
		s.respondError(w, r, err)
		return
	}

	title := fmt.Sprintf("%s - %s", src.Name(), n.Path)
	if err := s.reports.Build(r.Context(), n.DataID, title); err != nil {
		n.SetError(err.Error())
		s.hub.Broadcast(notify.NewUpdateNode(n.Serialize()), clientID(r))
		s.respondError(w, r, err)
		return
	}
	http.Redirect(w, r, fmt.Sprintf("/node/view-profile-report/%s/", n.DataID), http.StatusSeeOther)
}

func (s *Server) handleViewProfileReport(w http.ResponseWriter, r *http.Request) {
	_, n, ok := s.findNode(w, r)
	if !ok {
		return
	}

	html, err := s.cache.ReadProfileReport(n.DataID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := w.Write([]byte(html)); err != nil {
		s.logger.Warn("write profile report", "error", err)
	}
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	if !s.settings.EnableWebsocketConnections {
		s.respondError(w, r, fault.New(fault.NotFound, "websocket connections are not enabled"))
		return
	}
	s.hub.Handle(w, r, r.PathValue("clientId"))
}
