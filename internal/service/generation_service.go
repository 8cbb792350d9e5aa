package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/digkill/imagestudio/internal/config"
	"github.com/digkill/imagestudio/internal/models"
	"github.com/digkill/imagestudio/internal/wavespeed"
)

var (
	ErrGenerationNotFound = errors.New("generation not found")
	ErrImageRequired      = errors.New("source image is required")
)

// Provider is the asynchronous image-generation backend.
type Provider interface {
	Submit(ctx context.Context, req wavespeed.SubmitRequest) (string, error)
	AwaitResult(ctx context.Context, requestID string, opts wavespeed.PollOptions) (wavespeed.JobOutcome, error)
	GetResult(ctx context.Context, requestID string) (*wavespeed.Result, error)
}

// SourceUploader hosts the user's photo at a URL the provider can fetch.
type SourceUploader interface {
	UploadSource(ctx context.Context, data []byte) (string, error)
}

type GenerationStore interface {
	Create(ctx context.Context, rec *models.GenerationRecord) error
	GetByID(ctx context.Context, id string) (*models.GenerationRecord, error)
	ListByUser(ctx context.Context, userID int64, limit, offset int) ([]models.GenerationRecord, error)
}

// Notifier receives events worth an operator's attention. Implementations must not block.
type Notifier interface {
	PaymentCredited(ctx context.Context, userID int64, pkg *models.CreditPackage, paymentID string)
	GenerationRefunded(ctx context.Context, userID int64, decision *models.Decision, reason string)
}

type GenerationService struct {
	access      *AccessService
	prompts     *PromptService
	provider    Provider
	uploader    SourceUploader
	generations GenerationStore
	notifier    Notifier
	poll        wavespeed.PollOptions
	retention   time.Duration
	log         *slog.Logger
	now         func() time.Time
}

type GenerationRequest struct {
	UserID      int64
	Kind        models.OperationKind
	Environment string
	Intensity   string
	Prompt      string
	Image       []byte
}

const (
	RetrievalAvailable = "available"
	RetrievalExpired   = "expired"
)

// Retrieval is the user-facing view of a stored generation.
type Retrieval struct {
	Record   *models.GenerationRecord `json:"record"`
	Status   string                   `json:"status"`
	AssetURL string                   `json:"asset_url,omitempty"`
	AgeDays  int                      `json:"age_days"`
	Live     bool                     `json:"live"`
}

func NewGenerationService(cfg config.Config, log *slog.Logger, access *AccessService, prompts *PromptService, provider Provider, uploader SourceUploader, generations GenerationStore, notifier Notifier) *GenerationService {
	retention := cfg.AssetRetention
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	return &GenerationService{
		access:      access,
		prompts:     prompts,
		provider:    provider,
		uploader:    uploader,
		generations: generations,
		notifier:    notifier,
		poll:        wavespeed.PollOptions{MaxAttempts: cfg.PollMaxAttempts, Interval: cfg.PollInterval},
		retention:   retention,
		log:         log,
		now:         time.Now,
	}
}

// Generate charges the user, runs the provider job and stores its outcome. For failed,
// no-output and timed-out jobs the stored record is returned together with the error.
func (s *GenerationService) Generate(ctx context.Context, req GenerationRequest) (*models.GenerationRecord, *models.Decision, error) {
	if len(req.Image) == 0 {
		return nil, nil, ErrImageRequired
	}
	if req.Intensity == "" {
		req.Intensity = "medium"
	}

	decision, err := s.access.Evaluate(ctx, req.UserID, req.Kind, req.Environment)
	if err != nil {
		return nil, nil, err
	}

	id := uuid.NewString()
	variant := req.Kind.ModelVariant()
	log := s.log.With("generation_id", id, "user_id", req.UserID, "kind", req.Kind)

	imageURL, err := s.uploader.UploadSource(ctx, req.Image)
	if err != nil {
		s.refund(ctx, req.UserID, decision, id, "source upload failed")
		return nil, decision, fmt.Errorf("upload source image: %w", err)
	}

	prompt, err := s.prompts.Resolve(ctx, variant, req.Intensity, req.Environment, req.Prompt)
	if err != nil {
		s.refund(ctx, req.UserID, decision, id, "prompt resolution failed")
		return nil, decision, err
	}

	requestID, err := s.provider.Submit(ctx, wavespeed.SubmitRequest{
		Variant: variant,
		Images:  []string{imageURL},
		Prompt:  prompt,
	})
	if err != nil {
		log.Error("provider submission failed", "err", err)
		s.refund(ctx, req.UserID, decision, id, "provider rejected the job")
		return nil, decision, err
	}

	outcome, pollErr := s.provider.AwaitResult(ctx, requestID, s.poll)

	rec := &models.GenerationRecord{
		ID:           id,
		UserID:       req.UserID,
		Kind:         req.Kind,
		Environment:  req.Environment,
		Intensity:    req.Intensity,
		ModelVariant: variant,
		RequestID:    requestID,
		Cost:         decision.Cost,
		CreatedAt:    s.now().UTC(),
	}

	switch {
	case pollErr == nil:
		rec.Status = models.GenerationCompleted
		assetURL := outcome.AssetURL
		rec.AssetURL = &assetURL
	case errors.Is(pollErr, wavespeed.ErrPollTimeout):
		rec.Status = models.GenerationTimedOut
	case errors.Is(pollErr, context.DeadlineExceeded), errors.Is(pollErr, context.Canceled):
		// The job keeps running at the provider; treat it like a poll timeout.
		rec.Status = models.GenerationTimedOut
		pollErr = fmt.Errorf("%w: %w", wavespeed.ErrPollTimeout, pollErr)
	default:
		rec.Status = models.GenerationFailed
		rec.FailureReason = outcome.FailureReason
		if rec.FailureReason == "" {
			rec.FailureReason = pollErr.Error()
		}
	}

	// The request context may already be gone; the record must still be written.
	storeCtx := context.WithoutCancel(ctx)
	if err := s.generations.Create(storeCtx, rec); err != nil {
		log.Error("failed to store generation record", "err", err)
		if pollErr == nil {
			return nil, decision, fmt.Errorf("store generation: %w", err)
		}
	}

	if rec.Status == models.GenerationFailed {
		s.refund(storeCtx, req.UserID, decision, id, rec.FailureReason)
	}
	if pollErr != nil {
		log.Warn("generation did not complete", "status", rec.Status, "request_id", requestID, "err", pollErr)
		return rec, decision, pollErr
	}

	log.Info("generation completed", "request_id", requestID, "polls", outcome.Polls, "cost", decision.Cost)
	return rec, decision, nil
}

func (s *GenerationService) refund(ctx context.Context, userID int64, decision *models.Decision, reference, reason string) {
	// Refunds must land even when the caller has gone away.
	ctx = context.WithoutCancel(ctx)
	applied, err := s.access.Refund(ctx, userID, decision, "generation:"+reference)
	if err != nil {
		s.log.Error("refund failed", "user_id", userID, "reference", reference, "err", err)
		return
	}
	if applied && s.notifier != nil {
		s.notifier.GenerationRefunded(ctx, userID, decision, reason)
	}
}

// Retrieve returns the stored generation. Past the retention window the answer is derived
// from the record age alone; inside it the provider is asked for a fresh asset URL.
func (s *GenerationService) Retrieve(ctx context.Context, id string) (*Retrieval, error) {
	rec, err := s.generations.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrGenerationNotFound
	}

	now := s.now()
	age := now.Sub(rec.CreatedAt)
	out := &Retrieval{Record: rec, AgeDays: int(age / (24 * time.Hour))}

	expiresAt := rec.CreatedAt.Add(s.retention)
	if rec.AssetExpiresAt != nil {
		expiresAt = *rec.AssetExpiresAt
	}
	if !now.Before(expiresAt) {
		out.Status = RetrievalExpired
		return out, nil
	}

	if rec.RequestID != "" {
		result, err := s.provider.GetResult(ctx, rec.RequestID)
		switch {
		case err != nil:
			s.log.Warn("live asset lookup failed, serving stored url", "generation_id", rec.ID, "err", err)
		case result.Status == "completed" && len(result.Outputs) > 0 && result.Outputs[0] != "":
			out.Status = RetrievalAvailable
			out.AssetURL = result.Outputs[0]
			out.Live = true
			return out, nil
		}
	}

	if rec.AssetURL != nil && *rec.AssetURL != "" {
		out.Status = RetrievalAvailable
		out.AssetURL = *rec.AssetURL
		return out, nil
	}
	out.Status = string(rec.Status)
	return out, nil
}

func (s *GenerationService) ListByUser(ctx context.Context, userID int64, limit, offset int) ([]models.GenerationRecord, error) {
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return s.generations.ListByUser(ctx, userID, limit, offset)
}
