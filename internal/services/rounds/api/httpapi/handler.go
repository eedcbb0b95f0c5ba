// Package httpapi exposes the round engine over HTTP for the gateway and
// presentation layers.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"golang.org/x/text/language"

	apperrors "github.com/louisbranch/partyround/internal/platform/errors"
	"github.com/louisbranch/partyround/internal/platform/requestctx"
	"github.com/louisbranch/partyround/internal/services/rounds/domain/action"
	"github.com/louisbranch/partyround/internal/services/rounds/domain/auditlog"
	"github.com/louisbranch/partyround/internal/services/rounds/domain/effect"
	"github.com/louisbranch/partyround/internal/services/rounds/domain/match"
	"github.com/louisbranch/partyround/internal/services/rounds/domain/verdict"
	"github.com/louisbranch/partyround/internal/services/rounds/engine"
	"github.com/louisbranch/partyround/internal/services/rounds/storage"
)

const maxBodyBytes = 1 << 20

// Engine is the subset of the round engine the API drives.
type Engine interface {
	StartMatch(ctx context.Context, setup engine.MatchSetup) (match.State, error)
	OpenRound(ctx context.Context, matchID string, setup engine.RoundSetup) (match.Round, error)
	RemoveParticipant(ctx context.Context, matchID string, num int) error
	Submit(ctx context.Context, key storage.RoundKey, participant int, a action.Action) error
	Freeze(ctx context.Context, key storage.RoundKey) (engine.LockedSnapshot, error)
	Resolve(ctx context.Context, key storage.RoundKey) (engine.Result, error)
	Result(ctx context.Context, key storage.RoundKey) (storage.ResolutionRecord, error)
}

// Handler serves the round API.
type Handler struct {
	Engine   Engine
	Verifier *Verifier
	// Metrics serves /metrics. Nil disables the route.
	Metrics http.Handler
	Logger  *zap.Logger
}

// Routes builds the router.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if h.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.Metrics)
	}

	r.Route("/v1/matches", func(r chi.Router) {
		r.Use(h.authenticate)
		r.Post("/", h.handleStartMatch)
		r.Route("/{match}", func(r chi.Router) {
			r.Post("/rounds", h.handleOpenRound)
			r.Delete("/participants/{num}", h.handleRemoveParticipant)
			r.Route("/rounds/{round}", func(r chi.Router) {
				r.Post("/actions", h.handleSubmit)
				r.Post("/freeze", h.handleFreeze)
				r.Post("/resolve", h.handleResolve)
				r.Get("/result", h.handleResult)
			})
		})
	})
	return r
}

func (h *Handler) logger() *zap.Logger {
	if h.Logger == nil {
		return zap.NewNop()
	}
	return h.Logger
}

func (h *Handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			h.writeError(w, r, apperrors.New(apperrors.CodeUnauthenticated, "bearer token is required"))
			return
		}
		caller, err := h.Verifier.Verify(strings.TrimSpace(token))
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(requestctx.WithCaller(r.Context(), caller)))
	})
}

// authorize returns the caller when it belongs to the URL's match and has
// one of roles.
func (h *Handler) authorize(w http.ResponseWriter, r *http.Request, matchID string, roles ...string) (requestctx.Caller, bool) {
	caller, _ := requestctx.CallerFromContext(r.Context())
	if caller.MatchID != matchID {
		h.writeError(w, r, apperrors.New(apperrors.CodePermissionDenied, "token is for another match"))
		return requestctx.Caller{}, false
	}
	for _, role := range roles {
		if caller.Role == role {
			return caller, true
		}
	}
	h.writeError(w, r, apperrors.New(apperrors.CodePermissionDenied, "role "+caller.Role+" may not do this"))
	return requestctx.Caller{}, false
}

func roundKey(r *http.Request) (storage.RoundKey, error) {
	n, err := strconv.Atoi(chi.URLParam(r, "round"))
	if err != nil || n <= 0 {
		return storage.RoundKey{}, apperrors.New(apperrors.CodeInvalidRequest, "round must be a positive number")
	}
	return storage.RoundKey{MatchID: chi.URLParam(r, "match"), Round: n}, nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperrors.Wrap(apperrors.CodeInvalidRequest, "invalid request body", err)
	}
	return nil
}

func (h *Handler) handleStartMatch(w http.ResponseWriter, r *http.Request) {
	var setup engine.MatchSetup
	if err := decodeBody(w, r, &setup); err != nil {
		h.writeError(w, r, err)
		return
	}
	if setup.ID == "" {
		caller, _ := requestctx.CallerFromContext(r.Context())
		setup.ID = caller.MatchID
	}
	if _, ok := h.authorize(w, r, setup.ID, RoleHost); !ok {
		return
	}
	state, err := h.Engine.StartMatch(r.Context(), setup)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, matchResponse{
		MatchID:      state.Match.ID,
		Ruleset:      string(state.Match.Ruleset),
		Participants: len(state.Participants),
		Slots:        len(state.Slots),
	})
}

type openRoundRequest struct {
	Danger   int       `json:"danger"`
	Deadline time.Time `json:"deadline"`
}

func (h *Handler) handleOpenRound(w http.ResponseWriter, r *http.Request) {
	matchID := chi.URLParam(r, "match")
	if _, ok := h.authorize(w, r, matchID, RoleHost); !ok {
		return
	}
	var req openRoundRequest
	if r.ContentLength != 0 {
		if err := decodeBody(w, r, &req); err != nil {
			h.writeError(w, r, err)
			return
		}
	}
	round, err := h.Engine.OpenRound(r.Context(), matchID, engine.RoundSetup{Danger: req.Danger, Deadline: req.Deadline})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, roundResponse{MatchID: round.MatchID, Round: round.Number, Status: string(round.Status)})
}

func (h *Handler) handleRemoveParticipant(w http.ResponseWriter, r *http.Request) {
	matchID := chi.URLParam(r, "match")
	if _, ok := h.authorize(w, r, matchID, RoleHost); !ok {
		return
	}
	num, err := strconv.Atoi(chi.URLParam(r, "num"))
	if err != nil || num <= 0 {
		h.writeError(w, r, apperrors.New(apperrors.CodeInvalidRequest, "participant must be a positive number"))
		return
	}
	if err := h.Engine.RemoveParticipant(r.Context(), matchID, num); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	key, err := roundKey(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	caller, ok := h.authorize(w, r, key.MatchID, RoleParticipant)
	if !ok {
		return
	}
	var a action.Action
	if err := decodeBody(w, r, &a); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.Engine.Submit(r.Context(), key, participantNum(caller), a); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (h *Handler) handleFreeze(w http.ResponseWriter, r *http.Request) {
	key, err := roundKey(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if _, ok := h.authorize(w, r, key.MatchID, RoleHost, RoleModerator); !ok {
		return
	}
	snap, err := h.Engine.Freeze(r.Context(), key)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, freezeResponse{
		MatchID: key.MatchID,
		Round:   snap.Round.Number,
		Status:  string(snap.Round.Status),
		Actions: snap.Actions,
	})
}

func (h *Handler) handleResolve(w http.ResponseWriter, r *http.Request) {
	key, err := roundKey(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if _, ok := h.authorize(w, r, key.MatchID, RoleHost, RoleModerator); !ok {
		return
	}
	res, err := h.Engine.Resolve(r.Context(), key)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := newResultResponse(res.Record, ViewPrivileged, res.Streams().Moderator())
	out.Cached = res.Cached
	writeJSON(w, http.StatusOK, out)
}

// Result views.
const (
	ViewPublic     = "public"
	ViewPrivileged = "privileged"
	ViewPrivate    = "private"
)

func (h *Handler) handleResult(w http.ResponseWriter, r *http.Request) {
	key, err := roundKey(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	caller, ok := h.authorize(w, r, key.MatchID, RoleHost, RoleModerator, RoleParticipant)
	if !ok {
		return
	}
	view := r.URL.Query().Get("view")
	if view == "" {
		view = ViewPublic
	}
	switch view {
	case ViewPublic:
	case ViewPrivileged:
		if !privileged(caller) {
			h.writeError(w, r, apperrors.New(apperrors.CodePermissionDenied, "privileged view needs a host or moderator"))
			return
		}
	case ViewPrivate:
		if participantNum(caller) == 0 {
			h.writeError(w, r, apperrors.New(apperrors.CodePermissionDenied, "private view is for participants"))
			return
		}
	default:
		h.writeError(w, r, apperrors.New(apperrors.CodeInvalidRequest, "view must be public, privileged or private"))
		return
	}

	rec, err := h.Engine.Result(r.Context(), key)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	streams := auditlog.Split(rec.Lines)
	var lines []auditlog.Line
	switch view {
	case ViewPublic:
		lines = streams.Public
	case ViewPrivileged:
		lines = streams.Moderator()
	case ViewPrivate:
		lines = streams.For(participantNum(caller))
	}
	writeJSON(w, http.StatusOK, newResultResponse(rec, view, lines))
}

type matchResponse struct {
	MatchID      string `json:"match_id"`
	Ruleset      string `json:"ruleset"`
	Participants int    `json:"participants"`
	Slots        int    `json:"slots"`
}

type roundResponse struct {
	MatchID string `json:"match_id"`
	Round   int    `json:"round"`
	Status  string `json:"status"`
}

type freezeResponse struct {
	MatchID string          `json:"match_id"`
	Round   int             `json:"round"`
	Status  string          `json:"status"`
	Actions []action.Action `json:"actions"`
}

type resultResponse struct {
	ResolutionID string          `json:"resolution_id"`
	MatchID      string          `json:"match_id"`
	Round        int             `json:"round"`
	View         string          `json:"view"`
	Verdict      verdict.Verdict `json:"verdict"`
	Lines        []auditlog.Line `json:"lines"`
	Cached       bool            `json:"cached,omitempty"`

	Terminal []effect.TerminalEvent `json:"terminal"`
}

func newResultResponse(rec storage.ResolutionRecord, view string, lines []auditlog.Line) resultResponse {
	if lines == nil {
		lines = []auditlog.Line{}
	}
	terminal := rec.Terminal
	if view != ViewPrivileged {
		terminal = effect.WithoutSlots(terminal)
	}
	if terminal == nil {
		terminal = []effect.TerminalEvent{}
	}
	return resultResponse{
		ResolutionID: rec.ID,
		MatchID:      rec.MatchID,
		Round:        rec.Round,
		View:         view,
		Verdict:      rec.Verdict,
		Lines:        lines,
		Terminal:     terminal,
	}
}

type errorResponse struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Reason    string `json:"reason,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	caller, _ := requestctx.CallerFromContext(r.Context())

	var rej *engine.RejectError
	if errors.As(err, &rej) {
		code := rej.Code()
		writeJSON(w, code.HTTPStatus(), errorResponse{Code: string(code), Message: rej.Detail, Reason: string(rej.Reason)})
		return
	}

	var rerr *engine.ResolutionError
	if errors.As(err, &rerr) {
		msg := rerr.PublicMessage()
		if privileged(caller) {
			msg = rerr.Error()
		}
		status := http.StatusInternalServerError
		if rerr.Retryable {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, errorResponse{Code: string(rerr.Code), Message: msg, Retryable: rerr.Retryable})
		return
	}

	if appErr, ok := apperrors.As(err); ok {
		writeJSON(w, appErr.Code.HTTPStatus(), errorResponse{
			Code:    string(appErr.Code),
			Message: appErr.LocalizedMessage(requestLocale(r)),
		})
		return
	}

	h.logger().Error("unhandled request error",
		zap.String("path", r.URL.Path),
		zap.String("request_id", middleware.GetReqID(r.Context())),
		zap.Error(err),
	)
	writeJSON(w, http.StatusInternalServerError, errorResponse{Code: string(apperrors.CodeUnknown), Message: "internal error"})
}

// requestLocale picks the first Accept-Language tag.
func requestLocale(r *http.Request) string {
	tags, _, err := language.ParseAcceptLanguage(r.Header.Get("Accept-Language"))
	if err != nil || len(tags) == 0 {
		return ""
	}
	return tags[0].String()
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
