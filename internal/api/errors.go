package api

import (
	"errors"
	"net/http"

	"github.com/digkill/imagestudio/internal/service"
	"github.com/digkill/imagestudio/internal/storage"
	"github.com/digkill/imagestudio/internal/wavespeed"
	"github.com/digkill/imagestudio/pkg/response"
)

// writeError maps domain errors to stable codes. Provider text only ever appears in details.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var (
		insufficient *service.InsufficientCreditError
		providerErr  *wavespeed.ProviderError
		jobErr       *wavespeed.JobFailedError
		timeoutErr   *wavespeed.PollTimeoutError
	)

	switch {
	case errors.As(err, &insufficient):
		response.PaymentRequired(w, "INSUFFICIENT_CREDIT", "Not enough credits for this operation",
			insufficient.Required, insufficient.Available)
	case errors.Is(err, service.ErrAccountNotFound):
		response.NotFound(w, "ACCOUNT_NOT_FOUND", "Account not found")
	case errors.Is(err, service.ErrGenerationNotFound):
		response.NotFound(w, "GENERATION_NOT_FOUND", "Generation not found")
	case errors.Is(err, service.ErrPackageNotFound):
		response.NotFound(w, "PACKAGE_NOT_FOUND", "Credit package not found")
	case errors.Is(err, service.ErrInvalidKind),
		errors.Is(err, service.ErrEnvironmentRequired),
		errors.Is(err, service.ErrImageRequired),
		errors.Is(err, service.ErrInvalidInput),
		errors.Is(err, storage.ErrUnsupportedImage):
		response.ErrorWithDetails(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Validation failed",
			map[string]any{"reason": err.Error()})
	case errors.As(err, &providerErr):
		response.ErrorWithDetails(w, http.StatusBadGateway, "PROVIDER_SUBMISSION_FAILED", "The image provider rejected the request",
			map[string]any{"provider_status": providerErr.StatusCode, "provider_message": providerErr.Message})
	case errors.Is(err, wavespeed.ErrProviderSubmission), errors.Is(err, wavespeed.ErrMissingJobID):
		response.Error(w, http.StatusBadGateway, "PROVIDER_SUBMISSION_FAILED", "The image provider rejected the request")
	case errors.As(err, &jobErr):
		response.ErrorWithDetails(w, http.StatusBadGateway, "PROVIDER_JOB_FAILED", "The image provider could not complete the job",
			map[string]any{"reason": jobErr.Reason})
	case errors.Is(err, wavespeed.ErrNoOutputProduced):
		response.Error(w, http.StatusBadGateway, "NO_OUTPUT_PRODUCED", "The image provider returned no image")
	case errors.As(err, &timeoutErr):
		response.ErrorWithDetails(w, http.StatusGatewayTimeout, "POLL_TIMEOUT", "The image is still being generated, check back later",
			map[string]any{"elapsed_seconds": timeoutErr.ElapsedSeconds})
	case errors.Is(err, wavespeed.ErrPollTimeout):
		response.Error(w, http.StatusGatewayTimeout, "POLL_TIMEOUT", "The image is still being generated, check back later")
	case errors.Is(err, service.ErrInvalidSignature):
		response.Unauthorized(w, "Invalid signature")
	case errors.Is(err, service.ErrInvalidPayment):
		response.BadRequest(w, err.Error())
	default:
		s.log.Error("request failed", "err", err)
		response.InternalError(w)
	}
}
