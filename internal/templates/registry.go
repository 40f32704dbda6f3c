package templates

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"whatsapp-campaigns/internal/apperrors"
	"whatsapp-campaigns/internal/models"
	"whatsapp-campaigns/internal/store"
)

// Registry owns template approval and caches compiled content.
type Registry struct {
	store *store.Store
	now   func() time.Time

	mu    sync.Mutex
	cache map[uint]cached
}

type cached struct {
	content  string
	compiled *Compiled
}

func NewRegistry(s *store.Store) *Registry {
	return &Registry{
		store: s,
		now:   func() time.Time { return time.Now().UTC() },
		cache: map[uint]cached{},
	}
}

type CreateInput struct {
	Name       string `json:"name"`
	Content    string `json:"content"`
	Category   string `json:"category"`
	Language   string `json:"language"`
	ContentSID string `json:"content_sid"`
}

// Create stores a PENDING template after checking that its content parses.
func (r *Registry) Create(ctx context.Context, businessID uint, in CreateInput) (*models.Template, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, apperrors.NewValidation("name", "is required")
	}
	if strings.TrimSpace(in.Content) == "" {
		return nil, apperrors.NewValidation("content", "is required")
	}
	if _, err := Compile(in.Content); err != nil {
		return nil, err
	}
	if in.Language == "" {
		in.Language = "es"
	}
	if in.Category == "" {
		in.Category = "MARKETING"
	}
	t := &models.Template{
		BusinessID: businessID,
		Name:       in.Name,
		Content:    in.Content,
		Category:   strings.ToUpper(in.Category),
		Language:   in.Language,
		ContentSID: in.ContentSID,
		Status:     models.TemplatePending,
	}
	if err := r.store.CreateTemplate(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// Get returns a template owned by the business.
func (r *Registry) Get(ctx context.Context, businessID, id uint) (*models.Template, error) {
	t, err := r.store.GetTemplate(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.BusinessID != businessID {
		return nil, apperrors.NewNotFound("template", id)
	}
	return t, nil
}

func (r *Registry) List(ctx context.Context, businessID uint, status string) ([]models.Template, error) {
	return r.store.ListTemplates(ctx, businessID, strings.ToUpper(status))
}

// Approve compiles the content, stores its placeholders and marks it APPROVED.
// contentSID, when given, replaces the stored provider content id.
func (r *Registry) Approve(ctx context.Context, businessID, id uint, contentSID string) (*models.Template, error) {
	t, err := r.Get(ctx, businessID, id)
	if err != nil {
		return nil, err
	}
	compiled, err := Compile(t.Content)
	if err != nil {
		return nil, err
	}
	now := r.now()
	fields := map[string]any{
		"status":       models.TemplateApproved,
		"placeholders": EncodePlaceholders(compiled.Placeholders()),
		"approved_at":  now,
	}
	if contentSID != "" {
		fields["content_sid"] = contentSID
	}
	if err := r.store.UpdateTemplate(ctx, id, fields); err != nil {
		return nil, err
	}
	r.put(id, t.Content, compiled)
	return r.store.GetTemplate(ctx, id)
}

func (r *Registry) Reject(ctx context.Context, businessID, id uint) (*models.Template, error) {
	if _, err := r.Get(ctx, businessID, id); err != nil {
		return nil, err
	}
	if err := r.store.UpdateTemplate(ctx, id, map[string]any{"status": models.TemplateRejected}); err != nil {
		return nil, err
	}
	r.mu.Lock()
	delete(r.cache, id)
	r.mu.Unlock()
	return r.store.GetTemplate(ctx, id)
}

// Compiled returns the parsed form of an APPROVED template, compiling at most
// once per content revision.
func (r *Registry) Compiled(t *models.Template) (*Compiled, error) {
	if t.Status != models.TemplateApproved {
		return nil, apperrors.NewValidation("template_id", "template %d is %s, not APPROVED", t.ID, t.Status)
	}
	r.mu.Lock()
	c, ok := r.cache[t.ID]
	r.mu.Unlock()
	if ok && c.content == t.Content {
		return c.compiled, nil
	}
	compiled, err := Compile(t.Content)
	if err != nil {
		return nil, err
	}
	r.put(t.ID, t.Content, compiled)
	return compiled, nil
}

func (r *Registry) put(id uint, content string, compiled *Compiled) {
	r.mu.Lock()
	r.cache[id] = cached{content: content, compiled: compiled}
	r.mu.Unlock()
}

// StoredPlaceholders decodes the list saved at approval.
func StoredPlaceholders(t *models.Template) ([]string, error) {
	var names []string
	if t.Placeholders == "" {
		return names, nil
	}
	if err := json.Unmarshal([]byte(t.Placeholders), &names); err != nil {
		return nil, fmt.Errorf("template %d placeholders: %w", t.ID, err)
	}
	return names, nil
}
