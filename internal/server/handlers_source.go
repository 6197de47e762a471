package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"datadesk/internal/fault"
	"datadesk/internal/notify"
	"datadesk/internal/source"
)

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	s.respond(w, http.StatusOK, s.settings.Serialize())
}

func (s *Server) handleSourceList(w http.ResponseWriter, r *http.Request) {
	s.respond(w, http.StatusOK, s.registry.SerializeAll())
}

func (s *Server) handleLoadNodes(w http.ResponseWriter, r *http.Request) {
	src, ok := s.registry.Get(r.PathValue("id"))
	if !ok {
		s.respondError(w, r, fault.New(fault.NotFound, "no source with id %s", r.PathValue("id")))
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			s.respondError(w, r, fault.New(fault.Validation, "invalid limit %q", v))
			return
		}
		limit = n
	}

	cid := clientID(r)
	s.hub.Broadcast(notify.NewSetSourceUpdating(src.ID(), true), cid)
	err := src.LoadNodes(r.Context(), limit)
	s.hub.Broadcast(notify.NewSetSourceUpdating(src.ID(), false), cid)

	ser := src.Serialize()
	s.hub.Broadcast(notify.NewUpdateSource(ser), cid)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, ser)
}

func (s *Server) handleSourceCreate(w http.ResponseWriter, r *http.Request) {
	if s.settings.DisableAddDataSources {
		s.respondError(w, r, fault.New(fault.Permission, "adding data sources is disabled"))
		return
	}

	var desc source.Descriptor
	if err := json.NewDecoder(r.Body).Decode(&desc); err != nil {
		s.respondError(w, r, fault.Wrap(fault.Validation, err, "decode source"))
		return
	}

	src, err := s.registry.CreateOrReplace(r.Context(), desc, false)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	ser := src.Serialize()
	s.hub.Broadcast(notify.NewAddSources([]source.SerializedSource{ser}), clientID(r))
	s.respond(w, http.StatusOK, []source.SerializedSource{ser})
}

func (s *Server) handleSourceUpdate(w http.ResponseWriter, r *http.Request) {
	if s.settings.DisableEditDataSources {
		s.respondError(w, r, fault.New(fault.Permission, "editing data sources is disabled"))
		return
	}

	var desc source.Descriptor
	if err := json.NewDecoder(r.Body).Decode(&desc); err != nil {
		s.respondError(w, r, fault.Wrap(fault.Validation, err, "decode source"))
		return
	}

	src, err := s.registry.CreateOrReplace(r.Context(), desc, true)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	ser := src.Serialize()
	s.hub.Broadcast(notify.NewUpdateSource(ser), clientID(r))
	s.respond(w, http.StatusOK, ser)
}

func (s *Server) handleUpdateLayout(w http.ResponseWriter, r *http.Request) {
	if s.settings.DisableEditLayout {
		s.respondError(w, r, fault.New(fault.Permission, "editing the layout is disabled"))
		return
	}

	var changes []source.LayoutChange
	if err := json.NewDecoder(r.Body).Decode(&changes); err != nil {
		s.respondError(w, r, fault.Wrap(fault.Validation, err, "decode layout"))
		return
	}

	if err := s.registry.ApplyLayout(changes); err != nil {
		s.respondError(w, r, err)
		return
	}

	cid := clientID(r)
	updated := make([]source.SerializedSource, 0, len(changes))
	for _, c := range changes {
		src, ok := s.registry.Get(c.ID)
		if !ok {
			continue
		}
		ser := src.Serialize()
		s.hub.Broadcast(notify.NewUpdateSource(ser), cid)
		updated = append(updated, ser)
	}
	s.respond(w, http.StatusOK, updated)
}
