package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/digkill/imagestudio/internal/models"
)

type PromptStore interface {
	Find(ctx context.Context, variant models.ModelVariant, intensity, environment string) (*models.PromptTemplate, error)
	List(ctx context.Context) ([]models.PromptTemplate, error)
	Upsert(ctx context.Context, tpl *models.PromptTemplate) (*models.PromptTemplate, error)
	Delete(ctx context.Context, id int64) error
}

type promptKey struct {
	variant     models.ModelVariant
	intensity   string
	environment string
}

var defaultPrompts = map[promptKey]string{
	{models.ModelSeedream, "light", "studio"}:    "Retouch the portrait with soft studio lighting, keep the face and pose unchanged.",
	{models.ModelSeedream, "medium", "studio"}:   "Restyle the photo as a professional studio portrait with a seamless backdrop and balanced key light.",
	{models.ModelSeedream, "strong", "studio"}:   "Turn the photo into a dramatic editorial studio shot with high-contrast lighting and rich color grading.",
	{models.ModelSeedream, "light", "outdoor"}:   "Place the subject in natural daylight outdoors, keep the face and pose unchanged.",
	{models.ModelSeedream, "medium", "outdoor"}:  "Restyle the photo as an outdoor lifestyle shot in golden hour light with a softly blurred background.",
	{models.ModelSeedream, "strong", "outdoor"}:  "Transform the scene into a cinematic outdoor landscape portrait with volumetric light.",
	{models.ModelSeedream, "light", "city"}:      "Move the subject to a quiet city street, keep the face and pose unchanged.",
	{models.ModelSeedream, "medium", "city"}:     "Restyle the photo as an urban street portrait at dusk with neon reflections.",
	{models.ModelSeedream, "strong", "city"}:     "Transform the photo into a stylized night city scene with bold neon colors and rain reflections.",
	{models.ModelNanoBanana, "light", "studio"}:  "Enhance the photo to high-detail studio quality with natural skin texture.",
	{models.ModelNanoBanana, "medium", "studio"}: "Recreate the photo as a high-resolution fashion studio portrait with precise lighting.",
	{models.ModelNanoBanana, "strong", "studio"}: "Recreate the photo as a magazine cover shot with stylized lighting and sharp detail.",
	{models.ModelNanoBanana, "medium", "outdoor"}: "Recreate the photo as a high-resolution outdoor portrait with natural light and fine detail.",
	{models.ModelNanoBanana, "medium", "city"}:    "Recreate the photo as a high-resolution urban portrait with realistic city lighting.",
}

var variantFallbackPrompts = map[models.ModelVariant]string{
	models.ModelSeedream:   "Enhance the photo while keeping the subject's identity, face and pose unchanged.",
	models.ModelNanoBanana: "Recreate the photo in high resolution while keeping the subject's identity, face and pose unchanged.",
}

// PromptService resolves the provider prompt for a generation.
type PromptService struct {
	store PromptStore
	log   *slog.Logger
}

func NewPromptService(store PromptStore, log *slog.Logger) *PromptService {
	return &PromptService{store: store, log: log}
}

// Resolve looks up the stored template for the key, falls back to the built-in default for the
// same key and then to the variant's generic default. extra is appended after a single space.
func (s *PromptService) Resolve(ctx context.Context, variant models.ModelVariant, intensity, environment, extra string) (string, error) {
	intensity = normalizeKeyPart(intensity)
	environment = normalizeKeyPart(environment)

	base := ""
	tpl, err := s.store.Find(ctx, variant, intensity, environment)
	if err != nil {
		s.log.Warn("prompt store lookup failed, using built-in template", "variant", variant, "err", err)
	} else if tpl != nil {
		base = strings.TrimSpace(tpl.Template)
	}

	if base == "" {
		base = DefaultPrompt(variant, intensity, environment)
	}
	if base == "" {
		return "", fmt.Errorf("no prompt template for model variant %q", variant)
	}

	if extra = strings.TrimSpace(extra); extra != "" {
		return base + " " + extra, nil
	}
	return base, nil
}

// DefaultPrompt returns the built-in template for the key, or the variant's generic default.
func DefaultPrompt(variant models.ModelVariant, intensity, environment string) string {
	key := promptKey{variant: variant, intensity: normalizeKeyPart(intensity), environment: normalizeKeyPart(environment)}
	if p, ok := defaultPrompts[key]; ok {
		return p
	}
	return variantFallbackPrompts[variant]
}

// normalizeKeyPart is the form intensity and environment are stored and looked up in.
func normalizeKeyPart(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}

func (s *PromptService) List(ctx context.Context) ([]models.PromptTemplate, error) {
	return s.store.List(ctx)
}

func (s *PromptService) Save(ctx context.Context, tpl models.PromptTemplate) (*models.PromptTemplate, error) {
	if tpl.ModelVariant != models.ModelSeedream && tpl.ModelVariant != models.ModelNanoBanana {
		return nil, fmt.Errorf("%w: unknown model variant %q", ErrInvalidInput, tpl.ModelVariant)
	}
	tpl.Intensity = normalizeKeyPart(tpl.Intensity)
	tpl.Environment = normalizeKeyPart(tpl.Environment)
	tpl.Template = strings.TrimSpace(tpl.Template)
	if tpl.Template == "" {
		return nil, fmt.Errorf("%w: template text is required", ErrInvalidInput)
	}
	return s.store.Upsert(ctx, &tpl)
}

func (s *PromptService) Delete(ctx context.Context, id int64) error {
	return s.store.Delete(ctx, id)
}
