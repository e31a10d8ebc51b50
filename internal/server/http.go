package server

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Faultbox/objwatch/internal/assets"
	"github.com/Faultbox/objwatch/internal/network"
)

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.source.Names())
}

func (s *Server) handleAsset(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	asset, err := s.source.Fetch(r.Context(), name)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, assets.ErrUnknownAsset) {
			status = http.StatusNotFound
		}
		s.log.Warn("fetch failed", zap.String("asset", name), zap.Error(err))
		s.writeJSON(w, status, errorResponse{Error: err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, asset)
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	id := uuid.NewString()

	conn, err := s.upgrader.Upgrade(w, r, http.Header{network.SessionHeader: {id}})
	if err != nil {
		// Upgrade already wrote the HTTP error.
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	sess := newSession(id, conn, s)
	s.register(sess)
	go sess.writePump()
	sess.readPump()
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.log.Error("encoding response", zap.Error(err))
		status = http.StatusInternalServerError
		data, _ = json.Marshal(errorResponse{Error: "encoding response failed"})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}
