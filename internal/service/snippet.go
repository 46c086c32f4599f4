// Package service is the business layer between handlers and repositories.
//
//	Handler / socket / MCP tool  → parse input, render output
//	Service                      → validate, authorize, orchestrate
//	Repository                   → read/write the store
//
// Services know nothing about HTTP. Every surface (REST, SSE, WebSocket,
// MCP) calls the same methods, so the rules below hold everywhere.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/sakif/codeshelf/internal/apperror"
	"github.com/sakif/codeshelf/internal/auth"
	"github.com/sakif/codeshelf/internal/live"
	"github.com/sakif/codeshelf/internal/model"
	"github.com/sakif/codeshelf/internal/query"
	"github.com/sakif/codeshelf/internal/repository"
)

// Field ceilings. Counted in characters, not bytes.
const (
	MaxTitleLength       = 200
	MaxDescriptionLength = 2000
	MaxCodeLength        = 100000
	MaxLanguageLength    = 50
	MaxFrameworkLength   = 50
	MaxTags              = 20
	MaxTagLength         = 40
)

// SnippetService implements the snippet operations: live and one-shot
// lists, reads, owner-gated writes and facet queries.
type SnippetService struct {
	repo   repository.SnippetRepository
	broker *live.Broker
	logger *slog.Logger
}

// NewSnippetService wires the service. broker is the same one the store
// publishes to; without that link live lists never refresh.
func NewSnippetService(repo repository.SnippetRepository, broker *live.Broker, logger *slog.Logger) *SnippetService {
	return &SnippetService{
		repo:   repo,
		broker: broker,
		logger: logger,
	}
}

// ListOption tunes a live List.
type ListOption func(*live.Options)

// OnError receives store failures raised while refreshing a live list.
// The subscription survives them; the next change triggers a fresh attempt.
func OnError(fn func(error)) ListOption {
	return func(o *live.Options) { o.OnError = fn }
}

// List starts a live list for d. onUpdate receives the full ordered result
// set: first the initial one, then a fresh one after every write that could
// affect it. Calls are serialised and in order.
//
// The subscription ends when ctx is cancelled or the returned handle is
// cancelled; callers should do both:
//
//	sub, err := svc.List(r.Context(), d, render)
//	if err != nil { ... }
//	defer sub.Cancel()
func (s *SnippetService) List(ctx context.Context, d query.Descriptor, onUpdate func([]model.Snippet), opts ...ListOption) (*live.Subscription, error) {
	if onUpdate == nil {
		return nil, errors.New("service: List requires an onUpdate callback")
	}

	o := live.Options{
		Filter:   affects(d),
		OnUpdate: onUpdate,
		OnError: func(err error) {
			s.logger.Warn("live list refresh failed", slog.String("error", err.Error()))
		},
	}
	for _, opt := range opts {
		opt(&o)
	}

	sub, err := live.Watch(ctx, s.broker, func(ctx context.Context) ([]model.Snippet, error) {
		return s.repo.Find(ctx, d)
	}, o)
	if err != nil {
		return nil, fmt.Errorf("starting live list: %w", err)
	}
	return sub, nil
}

// affects reports whether a change can alter d's result set: the snippet
// matched before the write or matches after it.
func affects(d query.Descriptor) func(live.Change) bool {
	return func(c live.Change) bool {
		return (c.Before != nil && d.Matches(*c.Before)) || (c.After != nil && d.Matches(*c.After))
	}
}

// Snapshot runs d once.
func (s *SnippetService) Snapshot(ctx context.Context, d query.Descriptor) ([]model.Snippet, error) {
	snippets, err := s.repo.Find(ctx, d)
	if err != nil {
		s.logger.Error("failed to list snippets", slog.String("error", err.Error()))
		return nil, fmt.Errorf("listing snippets: %w", err)
	}
	return snippets, nil
}

// Get returns one snippet or ErrNotFound.
func (s *SnippetService) Get(ctx context.Context, id string) (*model.Snippet, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperror.ValidationFailed("id", "snippet ID is required")
	}
	return s.repo.GetByID(ctx, id)
}

// Create validates draft and stores it as owned by id. When the draft has
// no author, the caller's display name is used. Returns the new snippet ID.
func (s *SnippetService) Create(ctx context.Context, id auth.Identity, draft model.SnippetDraft) (string, error) {
	if id.IsZero() {
		return "", apperror.Unauthenticated()
	}

	draft = normalizeDraft(draft)
	if err := validateDraft(draft); err != nil {
		return "", err
	}

	author := draft.Author
	if author == "" {
		author = id.Name
	}

	snippet := &model.Snippet{
		Title:       draft.Title,
		Description: draft.Description,
		Code:        draft.Code,
		Language:    draft.Language,
		Framework:   draft.Framework,
		Tags:        draft.Tags,
		IsPublic:    draft.Public(),
		Author:      author,
		UserID:      id.UserID,
	}

	if err := s.repo.Create(ctx, snippet); err != nil {
		s.logger.Error("failed to create snippet",
			slog.String("title", draft.Title),
			slog.String("error", err.Error()),
		)
		return "", fmt.Errorf("creating snippet: %w", err)
	}

	s.logger.Info("snippet created",
		slog.String("id", snippet.ID),
		slog.String("userID", id.UserID),
		slog.String("language", snippet.Language),
	)
	return snippet.ID, nil
}

// Update applies patch to the snippet with snippetID. Only its owner may
// update it: anyone else gets ErrForbidden before any write is issued.
func (s *SnippetService) Update(ctx context.Context, id auth.Identity, snippetID string, patch model.SnippetPatch) (*model.Snippet, error) {
	if id.IsZero() {
		return nil, apperror.Unauthenticated()
	}
	snippetID = strings.TrimSpace(snippetID)

	patch = normalizePatch(patch)
	if err := validatePatch(patch); err != nil {
		return nil, err
	}

	if err := s.authorize(ctx, id, snippetID); err != nil {
		return nil, err
	}

	updated, err := s.repo.Update(ctx, snippetID, patch)
	if err != nil {
		if !errors.Is(err, apperror.ErrNotFound) {
			s.logger.Error("failed to update snippet",
				slog.String("id", snippetID),
				slog.String("error", err.Error()),
			)
		}
		return nil, fmt.Errorf("updating snippet: %w", err)
	}

	s.logger.Info("snippet updated", slog.String("id", snippetID), slog.String("userID", id.UserID))
	return updated, nil
}

// Delete removes the snippet with snippetID. Deleting something that does
// not exist succeeds; deleting someone else's snippet is ErrForbidden.
func (s *SnippetService) Delete(ctx context.Context, id auth.Identity, snippetID string) error {
	if id.IsZero() {
		return apperror.Unauthenticated()
	}
	snippetID = strings.TrimSpace(snippetID)

	err := s.authorize(ctx, id, snippetID)
	if errors.Is(err, apperror.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if err := s.repo.Delete(ctx, snippetID); err != nil {
		s.logger.Error("failed to delete snippet",
			slog.String("id", snippetID),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("deleting snippet: %w", err)
	}

	s.logger.Info("snippet deleted", slog.String("id", snippetID), slog.String("userID", id.UserID))
	return nil
}

// authorize loads the snippet and checks the caller owns it.
func (s *SnippetService) authorize(ctx context.Context, id auth.Identity, snippetID string) error {
	if snippetID == "" {
		return apperror.ValidationFailed("id", "snippet ID is required")
	}

	existing, err := s.repo.GetByID(ctx, snippetID)
	if err != nil {
		return err
	}
	if existing.UserID != id.UserID {
		s.logger.Warn("rejected write to a snippet owned by someone else",
			slog.String("id", snippetID),
			slog.String("userID", id.UserID),
		)
		return apperror.Forbidden("only the owner can change this snippet")
	}
	return nil
}

// DistinctLanguages returns every language in use, ascending.
func (s *SnippetService) DistinctLanguages(ctx context.Context) ([]string, error) {
	return s.facets(ctx, repository.FacetLanguage)
}

// DistinctFrameworks returns every non-null framework in use, ascending.
func (s *SnippetService) DistinctFrameworks(ctx context.Context) ([]string, error) {
	return s.facets(ctx, repository.FacetFramework)
}

// DistinctTags returns every tag in use across all snippets, ascending.
func (s *SnippetService) DistinctTags(ctx context.Context) ([]string, error) {
	return s.facets(ctx, repository.FacetTag)
}

func (s *SnippetService) facets(ctx context.Context, kind repository.FacetKind) ([]string, error) {
	values, err := s.repo.Facets(ctx, kind)
	if err != nil {
		s.logger.Error("failed to read facets", slog.String("kind", string(kind)), slog.String("error", err.Error()))
		return nil, fmt.Errorf("reading %s facets: %w", kind, err)
	}
	return values, nil
}

// =========================================================================
// INPUT NORMALISATION AND VALIDATION
// =========================================================================

func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func normalizeFramework(f *string) *string {
	if f == nil {
		return nil
	}
	v := strings.TrimSpace(*f)
	if v == "" {
		return nil
	}
	return &v
}

func normalizeDraft(d model.SnippetDraft) model.SnippetDraft {
	d.Title = strings.TrimSpace(d.Title)
	d.Description = strings.TrimSpace(d.Description)
	d.Language = strings.TrimSpace(d.Language)
	d.Author = strings.TrimSpace(d.Author)
	d.Framework = normalizeFramework(d.Framework)
	d.Tags = normalizeTags(d.Tags)
	if strings.TrimSpace(d.Code) == "" {
		d.Code = ""
	}
	return d
}

func normalizePatch(p model.SnippetPatch) model.SnippetPatch {
	trim := func(s *string) *string {
		if s == nil {
			return nil
		}
		v := strings.TrimSpace(*s)
		return &v
	}
	p.Title = trim(p.Title)
	p.Description = trim(p.Description)
	p.Language = trim(p.Language)
	if p.Code != nil && strings.TrimSpace(*p.Code) == "" {
		empty := ""
		p.Code = &empty
	}
	if p.Framework != nil {
		f := normalizeFramework(*p.Framework)
		p.Framework = &f
	}
	if p.Tags != nil {
		tags := normalizeTags(*p.Tags)
		p.Tags = &tags
	}
	return p
}

var tagRules = []validation.Rule{
	validation.Length(0, MaxTags).Error(fmt.Sprintf("at most %d allowed", MaxTags)),
	validation.Each(validation.RuneLength(1, MaxTagLength)),
}

func validateDraft(d model.SnippetDraft) error {
	return validationError(validation.ValidateStruct(&d,
		validation.Field(&d.Title, validation.Required.Error("is required"), validation.RuneLength(1, MaxTitleLength)),
		validation.Field(&d.Code, validation.Required.Error("is required"), validation.RuneLength(1, MaxCodeLength)),
		validation.Field(&d.Language, validation.Required.Error("is required"), validation.RuneLength(1, MaxLanguageLength)),
		validation.Field(&d.Description, validation.RuneLength(0, MaxDescriptionLength)),
		validation.Field(&d.Framework, validation.RuneLength(1, MaxFrameworkLength)),
		validation.Field(&d.Tags, tagRules...),
	))
}

func validatePatch(p model.SnippetPatch) error {
	err := validation.ValidateStruct(&p,
		validation.Field(&p.Title, validation.NilOrNotEmpty.Error("cannot be empty"), validation.RuneLength(1, MaxTitleLength)),
		validation.Field(&p.Code, validation.NilOrNotEmpty.Error("cannot be empty"), validation.RuneLength(1, MaxCodeLength)),
		validation.Field(&p.Language, validation.NilOrNotEmpty.Error("cannot be empty"), validation.RuneLength(1, MaxLanguageLength)),
		validation.Field(&p.Description, validation.RuneLength(0, MaxDescriptionLength)),
	)
	if err != nil {
		return validationError(err)
	}
	if p.Framework != nil && *p.Framework != nil {
		if err := validation.Validate(**p.Framework, validation.RuneLength(1, MaxFrameworkLength)); err != nil {
			return validationError(validation.Errors{"framework": err})
		}
	}
	if p.Tags != nil {
		if err := validation.Validate(*p.Tags, tagRules...); err != nil {
			return validationError(validation.Errors{"tags": err})
		}
	}
	return nil
}

// validationError turns ozzo's per-field errors into one AppError naming
// the first failing field (alphabetically, so the result is stable).
func validationError(err error) error {
	if err == nil {
		return nil
	}
	var errs validation.Errors
	if !errors.As(err, &errs) || len(errs) == 0 {
		return apperror.ValidationFailed("", err.Error())
	}
	fields := make([]string, 0, len(errs))
	for f := range errs {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	first := fields[0]
	return apperror.ValidationFailed(first, fmt.Sprintf("%s: %s", first, errs[first].Error()))
}
