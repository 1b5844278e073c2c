package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"kniffel/internal/gamedata"
	"kniffel/internal/peersync"
	"kniffel/internal/scoresheet"
	"kniffel/internal/share"
	"kniffel/internal/transport"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

var errBadRequest = errors.New("bad request")

type playerView struct {
	scoresheet.Player
	Totals scoresheet.Totals `json:"totals"`
}

type stateView struct {
	Version int          `json:"version"`
	Players []playerView `json:"players"`
}

func viewOf(state scoresheet.GameState) stateView {
	v := stateView{Version: state.Version, Players: make([]playerView, len(state.Players))}
	for i, p := range state.Players {
		v.Players[i] = playerView{Player: p, Totals: scoresheet.TotalsFor(p)}
	}
	return v
}

type peersView struct {
	peersync.Status
	Known []string `json:"known"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, gamedata.ErrPlayerNotFound):
		return http.StatusNotFound
	case errors.Is(err, gamedata.ErrLastPlayer):
		return http.StatusConflict
	case errors.Is(err, gamedata.ErrUnknownField),
		errors.Is(err, share.ErrBlankName),
		errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, peersync.ErrNotReady),
		errors.Is(err, peersync.ErrStopped),
		errors.Is(err, share.ErrNoPeerID):
		return http.StatusServiceUnavailable
	case errors.Is(err, peersync.ErrConnectTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, peersync.ErrConnectionClosed),
		errors.Is(err, peersync.ErrPeerRemoved),
		errors.Is(err, transport.ErrPeerUnavailable):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= 500 && status != http.StatusServiceUnavailable {
		s.log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.node.Health(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "db_error", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type indexView struct {
	GameName  string
	Status    peersync.Status
	ShareLink string
	Players   []playerView
}

// handleHome renders the scoreboard. A share link lands here with
// ?peer=<id>; the connect is started in the background and the browser is
// redirected to the plain page.
func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	if peer := r.URL.Query().Get(share.PeerParam); peer != "" {
		go s.connectFromLink(peer)
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	status := s.node.Engine.Status()
	link, _ := share.Link(s.publicURL, status.SelfID)
	view := indexView{
		GameName:  s.node.Settings.Get().GameName,
		Status:    status,
		ShareLink: link,
		Players:   viewOf(s.node.Store.State()).Players,
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.tmpl.ExecuteTemplate(w, "index", view); err != nil {
		s.log.Error().Err(err).Msg("rendering index")
		http.Error(w, "Error rendering page", http.StatusInternalServerError)
	}
}

func (s *Server) connectFromLink(peer string) {
	if err := s.node.Engine.ConnectToPeer(s.ctx, peer); err != nil {
		s.log.Warn().Err(err).Str("peer", peer).Msg("share link connect failed")
	}
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, viewOf(s.node.Store.State()))
}

func (s *Server) handleAddPlayer(w http.ResponseWriter, r *http.Request) {
	id := s.node.Store.AddPlayer()
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (s *Server) handleRemovePlayer(w http.ResponseWriter, r *http.Request) {
	if err := s.node.Store.RemovePlayer(chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRenamePlayer(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if err := decode(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.node.Store.UpdatePlayerName(chi.URLParam(r, "id"), body.Name); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(s.node.Store.State()))
}

func (s *Server) handleUpdateCell(w http.ResponseWriter, r *http.Request) {
	section, err := scoresheet.ParseSection(chi.URLParam(r, "section"))
	if err != nil {
		s.writeError(w, r, fmt.Errorf("%w: %v", gamedata.ErrUnknownField, err))
		return
	}
	var patch scoresheet.CellPatch
	if err := decode(r, &patch); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.node.Store.UpdateCell(chi.URLParam(r, "id"), section, chi.URLParam(r, "field"), patch); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(s.node.Store.State()))
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.node.Store.Reset()
	writeJSON(w, http.StatusOK, viewOf(s.node.Store.State()))
}

func (s *Server) handleRevanche(w http.ResponseWriter, r *http.Request) {
	s.node.Store.Revanche()
	writeJSON(w, http.StatusOK, viewOf(s.node.Store.State()))
}

func (s *Server) peersView() peersView {
	return peersView{Status: s.node.Engine.Status(), Known: s.node.Directory.KnownPeers()}
}

func (s *Server) handlePeers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.peersView())
}

// handleConnect waits for the connection to open or fail.
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ID string `json:"id"`
	}
	if err := decode(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.node.Engine.ConnectToPeer(r.Context(), body.ID); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.peersView())
}

func (s *Server) handleRemovePeer(w http.ResponseWriter, r *http.Request) {
	s.node.Engine.RemovePeer(chi.URLParam(r, "id"))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleResetPeerID(w http.ResponseWriter, r *http.Request) {
	if err := s.node.Engine.ResetPeerID(r.Context()); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.peersView())
}

func (s *Server) handleShareSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.node.Settings.Get())
}

func (s *Server) handleUpdateShareSettings(w http.ResponseWriter, r *http.Request) {
	var body share.Settings
	if err := decode(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	settings, err := s.node.Settings.SetGameName(body.GameName)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) handleShareLink(w http.ResponseWriter, r *http.Request) {
	link, err := share.Link(s.publicURL, s.node.Engine.SelfID())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"link": link})
}

func (s *Server) handleShareQR(w http.ResponseWriter, r *http.Request) {
	link, err := share.Link(s.publicURL, s.node.Engine.SelfID())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	size := share.DefaultQRSize
	if raw := r.URL.Query().Get("size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 64 || n > 2048 {
			s.writeError(w, r, fmt.Errorf("%w: size must be between 64 and 2048", errBadRequest))
			return
		}
		size = n
	}
	png, err := share.QRCode(link, size)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	doc := share.Export(s.node.Store.State(), s.node.Settings.Get())
	data, err := doc.Marshal()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", share.ExportContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+share.ExportFileName+`"`)
	_, _ = w.Write(data)
}
