package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/commentgame/comment-mirror/indexer/ledger"
	"github.com/commentgame/comment-mirror/indexer/mirror"
	"github.com/commentgame/comment-mirror/indexer/normalizer"
	"github.com/commentgame/comment-mirror/indexer/store"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

// handleHealth handles the health check endpoint
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleListGames handles GET /api/v1/games
func (s *Server) handleListGames(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parsePagination(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	games, err := s.mirror.ListGames(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list games")
		s.writeError(w, http.StatusInternalServerError, "failed to list games")
		return
	}
	if games == nil {
		games = []store.Game{}
	}
	s.writeJSON(w, http.StatusOK, QueryResponse{Data: games})
}

// handleGetGame handles GET /api/v1/games/{address}
func (s *Server) handleGetGame(w http.ResponseWriter, r *http.Request) {
	address, err := normalizer.NormalizeAddress(mux.Vars(r)["address"])
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	game, err := s.mirror.GetGame(r.Context(), address)
	if err != nil {
		if errors.Is(err, mirror.ErrGameNotFound) {
			s.writeError(w, http.StatusNotFound, "game not found")
			return
		}
		s.logger.Error().Err(err).Str("game_address", address).Msg("failed to get game")
		s.writeError(w, http.StatusInternalServerError, "failed to get game")
		return
	}
	s.writeJSON(w, http.StatusOK, QueryResponse{Data: game})
}

// handleListComments handles GET /api/v1/games/{address}/comments
func (s *Server) handleListComments(w http.ResponseWriter, r *http.Request) {
	address, err := normalizer.NormalizeAddress(mux.Vars(r)["address"])
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, offset, err := parsePagination(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	comments, err := s.mirror.ListComments(r.Context(), address, limit, offset)
	if err != nil {
		s.logger.Error().Err(err).Str("game_address", address).Msg("failed to list comments")
		s.writeError(w, http.StatusInternalServerError, "failed to list comments")
		return
	}
	if comments == nil {
		comments = []store.Comment{}
	}
	s.writeJSON(w, http.StatusOK, QueryResponse{Data: comments})
}

// handleToggleLike handles POST /api/v1/comments/{id}/like
func (s *Server) handleToggleLike(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil || id == 0 {
		s.writeError(w, http.StatusBadRequest, "invalid comment id")
		return
	}

	var req LikeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	user, err := normalizer.NormalizeAddress(req.UserAddress)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.mirror.ToggleLike(r.Context(), uint(id), user)
	if err != nil {
		if errors.Is(err, mirror.ErrCommentNotFound) {
			s.writeError(w, http.StatusNotFound, "comment not found")
			return
		}
		s.logger.Error().Err(err).Uint64("comment_id", id).Msg("failed to toggle like")
		s.writeError(w, http.StatusInternalServerError, "failed to toggle like")
		return
	}
	s.writeJSON(w, http.StatusOK, QueryResponse{Data: res})
}

// handleRegisterTransaction handles POST /api/v1/transactions.
// Clients report a submitted transaction before it is mined so the sweeper
// can track it even if the live log is never seen.
func (s *Server) handleRegisterTransaction(w http.ResponseWriter, r *http.Request) {
	var req RegisterTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	txHash, err := normalizer.NormalizeTxHash(req.TxHash)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	gameAddress, err := normalizer.NormalizeAddress(req.GameAddress)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !store.ValidEventType(req.EventType) {
		s.writeError(w, http.StatusBadRequest, "unknown event type "+strconv.Quote(req.EventType))
		return
	}

	created, err := s.ledger.Register(r.Context(), txHash, gameAddress, req.EventType)
	if err != nil {
		s.logger.Error().Err(err).Str("tx_hash", txHash).Msg("failed to register transaction")
		s.writeError(w, http.StatusInternalServerError, "failed to register transaction")
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	s.writeJSON(w, status, QueryResponse{Data: RegisterTransactionResponse{TxHash: txHash, Created: created}})
}

// handleGetTransaction handles GET /api/v1/transactions/{txHash}
func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	txHash, err := normalizer.NormalizeTxHash(mux.Vars(r)["txHash"])
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	entry, err := s.ledger.Get(r.Context(), txHash)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "transaction not found")
			return
		}
		s.logger.Error().Err(err).Str("tx_hash", txHash).Msg("failed to get transaction")
		s.writeError(w, http.StatusInternalServerError, "failed to get transaction")
		return
	}
	s.writeJSON(w, http.StatusOK, QueryResponse{Data: entry})
}

// handleTransactionStats handles GET /api/v1/transactions/stats
func (s *Server) handleTransactionStats(w http.ResponseWriter, r *http.Request) {
	counts, err := s.ledger.CountByStatus(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to count transactions")
		s.writeError(w, http.StatusInternalServerError, "failed to count transactions")
		return
	}
	s.writeJSON(w, http.StatusOK, QueryResponse{Data: counts})
}

func parsePagination(r *http.Request) (int, int, error) {
	limit, offset := defaultPageLimit, 0
	q := r.URL.Query()

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return 0, 0, errors.Errorf("invalid limit %q", v)
		}
		limit = n
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}

	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return 0, 0, errors.Errorf("invalid offset %q", v)
		}
		offset = n
	}
	return limit, offset, nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error().Err(err).Msg("failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, ErrorResponse{Error: message})
}
