package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/felixgeelhaar/filldrill/internal/domain"
	"github.com/felixgeelhaar/filldrill/internal/draft"
	"github.com/felixgeelhaar/filldrill/internal/drill"
	"github.com/felixgeelhaar/filldrill/internal/identity"
	"github.com/felixgeelhaar/filldrill/internal/progress"
	"github.com/felixgeelhaar/filldrill/internal/remote"
)

// StateRetry tells the host that a question could not be located yet and
// the mount should be retried once content is available.
const StateRetry = "retry"

type openViewRequest struct {
	identity.MountDescriptor
	ActiveCollection *domain.Collection `json:"activeCollection,omitempty"`
}

type viewResponse struct {
	ViewID       string                `json:"viewId"`
	CollectionID string                `json:"collectionId"`
	QuestionID   string                `json:"questionId"`
	Level        domain.Level          `json:"level"`
	Question     string                `json:"question"`
	Template     *domain.Template      `json:"template,omitempty"`
	Attempt      *domain.Attempt       `json:"attempt,omitempty"`
	Draft        draft.Draft           `json:"draft"`
	Generating   bool                  `json:"generating"`
	Grading      bool                  `json:"grading"`
	Progress     drill.QuestionSummary `json:"progress"`
}

type generateRequest struct {
	ForceRefresh bool `json:"forceRefresh"`
}

type generateResponse struct {
	viewResponse
	Cached bool `json:"cached"`
}

type gradeRequest struct {
	Answers      map[string]string `json:"answers,omitempty"`
	ContextHints []string          `json:"contextHints,omitempty"`
}

type blankResult struct {
	ID      string         `json:"id"`
	Verdict domain.Verdict `json:"verdict"`
	Points  int            `json:"points"`
}

type gradeResponse struct {
	viewResponse
	Percentage int           `json:"percentage"`
	Passed     bool          `json:"passed"`
	Verdict    string        `json:"verdict"`
	Holistic   bool          `json:"holistic"`
	FirstClear bool          `json:"firstClear"`
	Blanks     []blankResult `json:"blanks"`
}

type levelRequest struct {
	Level domain.Level `json:"level"`
}

type inputRequest struct {
	BlankID string `json:"blankId"`
	Text    string `json:"text"`
}

// View handlers

func (s *Server) handleOpenView(w http.ResponseWriter, r *http.Request) {
	var req openViewRequest
	if err := decodeBody(r, &req); err != nil {
		s.jsonError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.Level != 0 && !req.Level.Valid() {
		s.drillError(w, r, domain.ValidateLevel(req.Level))
		return
	}

	v, rec, err := s.svc.Drill.OpenView(r.Context(), req.MountDescriptor, req.ActiveCollection)
	if err != nil {
		s.drillError(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusCreated, s.viewResponse(v, rec))
}

func (s *Server) handleGetView(w http.ResponseWriter, r *http.Request) {
	v, rec, ok := s.loadView(w, r)
	if !ok {
		return
	}
	s.jsonResponse(w, http.StatusOK, s.viewResponse(v, rec))
}

func (s *Server) handleCloseView(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Drill.CloseView(r.PathValue("id")); err != nil {
		s.drillError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetLevel(w http.ResponseWriter, r *http.Request) {
	var req levelRequest
	if err := decodeBody(r, &req); err != nil {
		s.jsonError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	v, err := s.svc.Drill.SetLevel(r.PathValue("id"), req.Level)
	if err != nil {
		s.drillError(w, r, err)
		return
	}
	rec, err := s.svc.Drill.Record(r.Context(), v.Subject)
	if err != nil {
		s.drillError(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, s.viewResponse(v, rec))
}

// Drill handlers

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := decodeBody(r, &req); err != nil {
		s.jsonError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	v, err := s.svc.Drill.View(r.PathValue("id"))
	if err != nil {
		s.drillError(w, r, err)
		return
	}

	res, err := s.svc.Drill.Generate(r.Context(), v.Subject, v.Level, req.ForceRefresh)
	if err != nil {
		s.drillError(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, generateResponse{
		viewResponse: s.viewResponse(v, res.Record),
		Cached:       res.Cached,
	})
}

func (s *Server) handleGrade(w http.ResponseWriter, r *http.Request) {
	var req gradeRequest
	if err := decodeBody(r, &req); err != nil {
		s.jsonError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	v, err := s.svc.Drill.View(r.PathValue("id"))
	if err != nil {
		s.drillError(w, r, err)
		return
	}

	res, err := s.svc.Drill.Grade(r.Context(), v.Subject, v.Level, drill.GradeInput{
		Answers:      req.Answers,
		ContextHints: req.ContextHints,
	})
	if err != nil {
		s.drillError(w, r, err)
		return
	}

	blanks := make([]blankResult, 0, len(res.Score.PerBlank))
	for _, b := range res.Score.PerBlank {
		blanks = append(blanks, blankResult{ID: b.ID, Verdict: b.Verdict, Points: b.Points})
	}
	s.jsonResponse(w, http.StatusOK, gradeResponse{
		viewResponse: s.viewResponse(v, res.Record),
		Percentage:   res.Score.Percentage,
		Passed:       res.Score.Passed,
		Verdict:      string(res.Score.Verdict),
		Holistic:     res.Score.Holistic,
		FirstClear:   res.FirstClear,
		Blanks:       blanks,
	})
}

// Draft handlers

func (s *Server) handleGetDraft(w http.ResponseWriter, r *http.Request) {
	v, err := s.svc.Drill.View(r.PathValue("id"))
	if err != nil {
		s.drillError(w, r, err)
		return
	}
	d, err := s.svc.Drill.Draft(v.Slot())
	if err != nil {
		s.drillError(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"level": v.Level, "draft": nonNilDraft(d)})
}

func (s *Server) handleInput(w http.ResponseWriter, r *http.Request) {
	var req inputRequest
	if err := decodeBody(r, &req); err != nil {
		s.jsonError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if strings.TrimSpace(req.BlankID) == "" {
		s.drillError(w, r, &domain.ValidationError{Field: "blankId", Message: "is required"})
		return
	}
	v, err := s.svc.Drill.View(r.PathValue("id"))
	if err != nil {
		s.drillError(w, r, err)
		return
	}
	d, err := s.svc.Drill.Input(v.Slot(), req.BlankID, req.Text)
	if err != nil {
		s.drillError(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"level": v.Level, "draft": nonNilDraft(d)})
}

func (s *Server) handleClearDraft(w http.ResponseWriter, r *http.Request) {
	v, err := s.svc.Drill.View(r.PathValue("id"))
	if err != nil {
		s.drillError(w, r, err)
		return
	}
	if err := s.svc.Drill.ClearDraft(v.Slot()); err != nil {
		s.drillError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Collection handlers

func (s *Server) handleCollectionProgress(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	summaries, err := s.svc.Drill.CollectionProgress(r.Context(), id)
	if err != nil {
		s.drillError(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"collectionId": id,
		"questions":    summaries,
	})
}

func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s.svc.Resolver.Repository().Invalidate(id)
	s.svc.Coordinator.InvalidateRemote(id)
	w.WriteHeader(http.StatusNoContent)
}

// Progress contract handlers

func (s *Server) handleFetchProgress(w http.ResponseWriter, r *http.Request) {
	collectionID := r.URL.Query().Get("collection")
	if collectionID == "" {
		s.jsonError(w, http.StatusBadRequest, "collection is required", nil)
		return
	}
	snap, err := s.svc.Coordinator.Snapshot(r.Context(), collectionID)
	if err != nil {
		s.drillError(w, r, err)
		return
	}

	resp := remote.FetchResponse{
		CollectionID: collectionID,
		Records:      make(map[string]json.RawMessage, len(snap)),
	}
	for qid, rec := range snap {
		data, err := progress.EncodeRecord(rec)
		if err != nil {
			s.logger.Warn("skipping unencodable record", "collection_id", collectionID, "question_id", qid, "error", err)
			continue
		}
		resp.Records[qid] = data
	}
	s.jsonResponse(w, http.StatusOK, resp)
}

func (s *Server) handlePutProgress(w http.ResponseWriter, r *http.Request) {
	var req remote.PutRequest
	if err := decodeBody(r, &req); err != nil {
		s.jsonError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.CollectionID == "" || req.QuestionID == "" || len(req.Record) == 0 {
		s.jsonError(w, http.StatusBadRequest, "collectionId, questionId and progressRecord are required", nil)
		return
	}
	rec, err := progress.DecodeRecord(req.Record, "")
	if err != nil {
		s.jsonError(w, http.StatusBadRequest, "invalid progress record", err)
		return
	}

	key := domain.RecordKey{CollectionID: req.CollectionID, QuestionID: req.QuestionID}
	if _, err := s.svc.Coordinator.Import(context.WithoutCancel(r.Context()), key, rec); err != nil {
		s.drillError(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"ok": true})
}

// Helpers

func (s *Server) loadView(w http.ResponseWriter, r *http.Request) (drill.View, *domain.ProgressRecord, bool) {
	v, err := s.svc.Drill.View(r.PathValue("id"))
	if err != nil {
		s.drillError(w, r, err)
		return drill.View{}, nil, false
	}
	rec, err := s.svc.Drill.Record(r.Context(), v.Subject)
	if err != nil {
		s.drillError(w, r, err)
		return drill.View{}, nil, false
	}
	return v, rec, true
}

func (s *Server) viewResponse(v drill.View, rec *domain.ProgressRecord) viewResponse {
	slot := v.Slot()
	d, err := s.svc.Drill.Draft(slot)
	if err != nil {
		s.logger.Warn("draft read failed",
			"collection_id", slot.CollectionID,
			"question_id", slot.QuestionID,
			"level", int(slot.Level),
			"error", err)
	}
	generating, grading := s.svc.Drill.Busy(slot)
	return viewResponse{
		ViewID:       v.ID,
		CollectionID: v.Subject.Key.CollectionID,
		QuestionID:   v.Subject.Key.QuestionID,
		Level:        v.Level,
		Question:     v.Subject.Question.Text,
		Template:     rec.Template(v.Level),
		Attempt:      rec.Attempt(v.Level),
		Draft:        nonNilDraft(d),
		Generating:   generating,
		Grading:      grading,
		Progress:     drill.Summarize(v.Subject.Key.QuestionID, rec),
	}
}

func nonNilDraft(d draft.Draft) draft.Draft {
	if d == nil {
		return draft.Draft{}
	}
	return d
}

// drillError maps engine errors to responses. A question that cannot be
// located is not a host failure: it answers 202 with state "retry".
func (s *Server) drillError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrIdentityResolution):
		s.jsonResponse(w, http.StatusAccepted, map[string]any{
			"state":   StateRetry,
			"error":   "question not available",
			"details": err.Error(),
		})
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrInvalidLevel):
		s.jsonError(w, http.StatusBadRequest, "invalid request", err)
	case errors.Is(err, domain.ErrNotFound):
		s.jsonError(w, http.StatusNotFound, "not found", err)
	case errors.Is(err, domain.ErrInFlight), errors.Is(err, domain.ErrStaleResponse):
		s.jsonError(w, http.StatusConflict, "operation in progress", err)
	case errors.Is(err, domain.ErrTemplateUnavailable):
		s.jsonError(w, http.StatusPreconditionFailed, "template unavailable", err)
	case errors.Is(err, domain.ErrNetworkFailure):
		s.jsonError(w, http.StatusBadGateway, "assistant request failed", err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		s.jsonError(w, http.StatusServiceUnavailable, "request cancelled", err)
	default:
		s.logger.Error("request failed",
			"correlation_id", GetCorrelationID(r.Context()),
			"path", r.URL.Path,
			"error", err)
		s.jsonError(w, http.StatusInternalServerError, "internal error", err)
	}
}
