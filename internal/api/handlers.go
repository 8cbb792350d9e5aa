package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/digkill/imagestudio/internal/models"
	"github.com/digkill/imagestudio/internal/service"
	"github.com/digkill/imagestudio/internal/wavespeed"
	"github.com/digkill/imagestudio/pkg/response"
	"github.com/digkill/imagestudio/pkg/validator"
)

const signatureHeader = "x-nowpayments-sig"

type ensureAccountRequest struct {
	UserID int64 `json:"user_id" validate:"required,gt=0"`
}

type accessCheckRequest struct {
	UserID        int64  `json:"user_id" validate:"required,gt=0"`
	OperationKind string `json:"operation_kind" validate:"required,operation_kind"`
	Environment   string `json:"environment" validate:"required,max=64"`
}

type generationForm struct {
	UserID        int64  `json:"user_id" validate:"required,gt=0"`
	OperationKind string `json:"operation_kind" validate:"required,operation_kind"`
	Environment   string `json:"environment" validate:"required,max=64"`
	Intensity     string `json:"intensity" validate:"omitempty,max=32"`
	Prompt        string `json:"prompt" validate:"max=1000"`
}

func (s *Server) handleEnsureAccount(w http.ResponseWriter, r *http.Request) {
	var req ensureAccountRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "invalid json")
		return
	}
	if errs := validator.Validate(req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	acc, created, err := s.deps.Accounts.Ensure(r.Context(), req.UserID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if created {
		response.Created(w, acc)
		return
	}
	response.OK(w, acc)
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	userID, err := parseID(chi.URLParam(r, "userID"))
	if err != nil {
		response.BadRequest(w, "invalid user id")
		return
	}
	acc, err := s.deps.Accounts.Get(r.Context(), userID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	response.OK(w, acc)
}

func (s *Server) handleAccessCheck(w http.ResponseWriter, r *http.Request) {
	var req accessCheckRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "invalid json")
		return
	}
	if errs := validator.Validate(req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	decision, err := s.deps.Access.Evaluate(r.Context(), req.UserID, models.OperationKind(req.OperationKind), req.Environment)
	if err != nil {
		s.writeError(w, err)
		return
	}
	response.OK(w, map[string]any{
		"granted":           decision.Granted,
		"cost":              decision.Cost,
		"remaining_balance": decision.RemainingBalance,
		"source":            decision.Source,
	})
}

func (s *Server) handleListPackages(w http.ResponseWriter, r *http.Request) {
	packages, err := s.deps.Packages.List(r.Context(), true)
	if err != nil {
		s.writeError(w, err)
		return
	}
	response.OK(w, packages)
}

func (s *Server) handleCreateGeneration(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+1<<20)
	if err := r.ParseMultipartForm(s.cfg.MaxUploadBytes); err != nil {
		response.BadRequest(w, "invalid multipart form or upload too large")
		return
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	userID, _ := strconv.ParseInt(strings.TrimSpace(r.FormValue("user_id")), 10, 64)
	form := generationForm{
		UserID:        userID,
		OperationKind: strings.TrimSpace(r.FormValue("operation_kind")),
		Environment:   strings.TrimSpace(r.FormValue("environment")),
		Intensity:     strings.TrimSpace(r.FormValue("intensity")),
		Prompt:        r.FormValue("prompt"),
	}
	if errs := validator.Validate(form); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	if !s.allow(w, r, form.UserID) {
		return
	}

	file, _, err := r.FormFile("image")
	if err != nil {
		response.ValidationError(w, map[string]string{"image": "This field is required"})
		return
	}
	defer file.Close()
	image, err := io.ReadAll(file)
	if err != nil {
		response.BadRequest(w, "could not read image")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.GenerationTimeout)
	defer cancel()

	rec, decision, err := s.deps.Generations.Generate(ctx, service.GenerationRequest{
		UserID:      form.UserID,
		Kind:        models.OperationKind(form.OperationKind),
		Environment: form.Environment,
		Intensity:   form.Intensity,
		Prompt:      form.Prompt,
		Image:       image,
	})
	if err != nil {
		if errors.Is(err, wavespeed.ErrPollTimeout) && rec != nil {
			response.ErrorWithDetails(w, http.StatusGatewayTimeout, "POLL_TIMEOUT", "The image is still being generated, check back later",
				map[string]any{"generation_id": rec.ID})
			return
		}
		s.writeError(w, err)
		return
	}

	response.OK(w, map[string]any{
		"generation":        rec,
		"cost":              decision.Cost,
		"remaining_balance": decision.RemainingBalance,
	})
}

func (s *Server) handleGetGeneration(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Generations.Retrieve(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	body := map[string]any{
		"id":       res.Record.ID,
		"status":   res.Status,
		"age_days": res.AgeDays,
	}
	if res.Status != service.RetrievalExpired {
		body["asset_url"] = res.AssetURL
		body["live"] = res.Live
		body["generation"] = res.Record
	}
	response.OK(w, body)
}

func (s *Server) handleListGenerations(w http.ResponseWriter, r *http.Request) {
	userID, err := parseID(chi.URLParam(r, "userID"))
	if err != nil {
		response.BadRequest(w, "invalid user id")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	records, err := s.deps.Generations.ListByUser(r.Context(), userID, limit, offset)
	if err != nil {
		s.writeError(w, err)
		return
	}
	response.OK(w, records)
}

func (s *Server) handlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		response.BadRequest(w, "read body error")
		return
	}
	res, err := s.deps.Payments.HandleIPN(r.Context(), body, r.Header.Get(signatureHeader))
	if err != nil {
		s.log.Warn("payment webhook rejected", "err", err)
		s.writeError(w, err)
		return
	}
	response.OK(w, res)
}

// allow applies the per-user limit and writes the 429 itself when the request is refused.
func (s *Server) allow(w http.ResponseWriter, r *http.Request, userID int64) bool {
	if s.deps.Limiter == nil {
		return true
	}
	res, err := s.deps.Limiter.Allow(r.Context(), "generate:"+strconv.FormatInt(userID, 10))
	if err != nil {
		// Throttling is best effort; a broken limiter must not block paying users.
		s.log.Error("rate limiter unavailable", "err", err)
		return true
	}
	if !res.Allowed {
		w.Header().Set("Retry-After", strconv.Itoa(int(res.RetryAfter.Seconds())+1))
		response.TooManyRequests(w, "Too many generation requests, slow down")
		return false
	}
	return true
}

func parseID(value string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return 0, err
	}
	if id <= 0 {
		return 0, errors.New("id must be positive")
	}
	return id, nil
}
