package admin

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/digkill/imagestudio/internal/models"
	"github.com/digkill/imagestudio/internal/service"
	"github.com/digkill/imagestudio/pkg/response"
	"github.com/digkill/imagestudio/pkg/validator"
)

type Accounts interface {
	Grant(ctx context.Context, userID int64, grant models.Grant, reference string) (bool, error)
	SetUnlimited(ctx context.Context, userID int64, unlimited bool) error
}

type Packages interface {
	List(ctx context.Context, activeOnly bool) ([]models.CreditPackage, error)
	Create(ctx context.Context, input service.CreatePackageInput) (*models.CreditPackage, error)
	Update(ctx context.Context, id int64, input service.UpdatePackageInput) (*models.CreditPackage, error)
	Delete(ctx context.Context, id int64) error
}

type Prompts interface {
	List(ctx context.Context) ([]models.PromptTemplate, error)
	Save(ctx context.Context, tpl models.PromptTemplate) (*models.PromptTemplate, error)
	Delete(ctx context.Context, id int64) error
}

// Server is the operator surface, mounted by the public router under /admin.
type Server struct {
	username string
	password string
	log      *slog.Logger
	accounts Accounts
	packages Packages
	prompts  Prompts
	router   *chi.Mux
}

func NewServer(username, password string, log *slog.Logger, accounts Accounts, packages Packages, prompts Prompts) *Server {
	r := chi.NewRouter()

	s := &Server{
		username: username,
		password: password,
		log:      log,
		accounts: accounts,
		packages: packages,
		prompts:  prompts,
		router:   r,
	}
	r.Group(func(protected chi.Router) {
		protected.Use(s.basicAuthMiddleware())
		protected.Post("/credits", s.handleGrantCredits)
		protected.Put("/accounts/{userID}/unlimited", s.handleSetUnlimited)
		protected.Route("/packages", func(r chi.Router) {
			r.Get("/", s.handleListPackages)
			r.Post("/", s.handleCreatePackage)
			r.Put("/{id}", s.handleUpdatePackage)
			r.Delete("/{id}", s.handleDeletePackage)
		})
		protected.Route("/prompts", func(r chi.Router) {
			r.Get("/", s.handleListPrompts)
			r.Put("/", s.handleSavePrompt)
			r.Delete("/{id}", s.handleDeletePrompt)
		})
	})
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type grantRequest struct {
	UserID       int64  `json:"user_id" validate:"required,gt=0"`
	Balance      int    `json:"balance" validate:"gte=0"`
	FreeStandard int    `json:"free_standard" validate:"gte=0"`
	FreeHD       int    `json:"free_hd" validate:"gte=0"`
	Reference    string `json:"reference" validate:"max=128"`
}

func (s *Server) handleGrantCredits(w http.ResponseWriter, r *http.Request) {
	var req grantRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "invalid json")
		return
	}
	if errs := validator.Validate(req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	grant := models.Grant{Balance: req.Balance, FreeStandard: req.FreeStandard, FreeHD: req.FreeHD}
	applied, err := s.accounts.Grant(r.Context(), req.UserID, grant, strings.TrimSpace(req.Reference))
	if err != nil {
		s.fail(w, err)
		return
	}
	s.log.Info("admin grant", "user_id", req.UserID, "balance", grant.Balance, "free_standard", grant.FreeStandard, "free_hd", grant.FreeHD, "applied", applied)
	response.OK(w, map[string]any{"applied": applied})
}

type unlimitedRequest struct {
	Unlimited bool `json:"unlimited"`
}

func (s *Server) handleSetUnlimited(w http.ResponseWriter, r *http.Request) {
	userID, err := parseID(chi.URLParam(r, "userID"))
	if err != nil {
		response.BadRequest(w, "invalid user id")
		return
	}
	var req unlimitedRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "invalid json")
		return
	}
	if err := s.accounts.SetUnlimited(r.Context(), userID, req.Unlimited); err != nil {
		s.fail(w, err)
		return
	}
	response.OK(w, map[string]any{"user_id": userID, "unlimited": req.Unlimited})
}

func (s *Server) handleListPackages(w http.ResponseWriter, r *http.Request) {
	packages, err := s.packages.List(r.Context(), false)
	if err != nil {
		s.fail(w, err)
		return
	}
	response.OK(w, packages)
}

func (s *Server) handleCreatePackage(w http.ResponseWriter, r *http.Request) {
	var input service.CreatePackageInput
	if err := response.DecodeJSON(r.Body, &input); err != nil {
		response.BadRequest(w, "invalid json")
		return
	}
	if errs := validator.Validate(input); errs != nil {
		response.ValidationError(w, errs)
		return
	}
	pkg, err := s.packages.Create(r.Context(), input)
	if err != nil {
		s.fail(w, err)
		return
	}
	response.Created(w, pkg)
}

func (s *Server) handleUpdatePackage(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "invalid id")
		return
	}
	var input service.UpdatePackageInput
	if err := response.DecodeJSON(r.Body, &input); err != nil {
		response.BadRequest(w, "invalid json")
		return
	}
	if errs := validator.Validate(input); errs != nil {
		response.ValidationError(w, errs)
		return
	}
	pkg, err := s.packages.Update(r.Context(), id, input)
	if err != nil {
		s.fail(w, err)
		return
	}
	response.OK(w, pkg)
}

func (s *Server) handleDeletePackage(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "invalid id")
		return
	}
	if err := s.packages.Delete(r.Context(), id); err != nil {
		s.fail(w, err)
		return
	}
	response.NoContent(w)
}

func (s *Server) handleListPrompts(w http.ResponseWriter, r *http.Request) {
	prompts, err := s.prompts.List(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	response.OK(w, prompts)
}

type promptRequest struct {
	ModelVariant string `json:"model_variant" validate:"required,model_variant"`
	Intensity    string `json:"intensity" validate:"required,max=32"`
	Environment  string `json:"environment" validate:"required,max=64"`
	Template     string `json:"template" validate:"required,max=4000"`
}

func (s *Server) handleSavePrompt(w http.ResponseWriter, r *http.Request) {
	var req promptRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "invalid json")
		return
	}
	if errs := validator.Validate(req); errs != nil {
		response.ValidationError(w, errs)
		return
	}
	tpl, err := s.prompts.Save(r.Context(), models.PromptTemplate{
		ModelVariant: models.ModelVariant(req.ModelVariant),
		Intensity:    strings.ToLower(strings.TrimSpace(req.Intensity)),
		Environment:  strings.ToLower(strings.TrimSpace(req.Environment)),
		Template:     req.Template,
	})
	if err != nil {
		s.fail(w, err)
		return
	}
	response.OK(w, tpl)
}

func (s *Server) handleDeletePrompt(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "invalid id")
		return
	}
	if err := s.prompts.Delete(r.Context(), id); err != nil {
		s.fail(w, err)
		return
	}
	response.NoContent(w)
}

func (s *Server) basicAuthMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			if !ok || !equal(user, s.username) || !equal(pass, s.password) {
				w.Header().Set("WWW-Authenticate", `Basic realm="imagestudio"`)
				response.Unauthorized(w, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrAccountNotFound):
		response.NotFound(w, "ACCOUNT_NOT_FOUND", "Account not found")
	case errors.Is(err, service.ErrPackageNotFound):
		response.NotFound(w, "PACKAGE_NOT_FOUND", "Credit package not found")
	case errors.Is(err, service.ErrInvalidInput):
		response.BadRequest(w, err.Error())
	default:
		s.log.Error("admin handler error", "err", err)
		response.InternalError(w)
	}
}

func equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func parseID(value string) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(value), 10, 64)
}
