// Package repository declares the storage contracts the service layer
// depends on. The sqlite package implements them; service tests use fakes.
package repository

import (
	"context"

	"github.com/sakif/codeshelf/internal/model"
	"github.com/sakif/codeshelf/internal/query"
)

// FacetKind names one of the distinct-value indexes kept next to snippets.
type FacetKind string

const (
	FacetLanguage  FacetKind = "language"
	FacetFramework FacetKind = "framework"
	FacetTag       FacetKind = "tag"
)

// FacetKinds lists every kind, in the order the CLI reports them.
var FacetKinds = []FacetKind{FacetLanguage, FacetFramework, FacetTag}

// SnippetRepository is the snippets collection.
//
// Every method that fails on I/O returns an error matching
// apperror.ErrUnavailable. Lookups of a missing id match apperror.ErrNotFound.
type SnippetRepository interface {
	// Create assigns the ID and timestamps on snippet and persists it.
	Create(ctx context.Context, snippet *model.Snippet) error
	GetByID(ctx context.Context, id string) (*model.Snippet, error)
	// Find runs a composed descriptor once: filtered, newest first, capped.
	Find(ctx context.Context, d query.Descriptor) ([]model.Snippet, error)
	// Update merges patch into the stored snippet and returns the result.
	// A missing id is ErrNotFound; it never inserts.
	Update(ctx context.Context, id string, patch model.SnippetPatch) (*model.Snippet, error)
	// Delete is idempotent: a missing id is not an error.
	Delete(ctx context.Context, id string) error

	// Facets reads the maintained distinct-value index, ascending.
	Facets(ctx context.Context, kind FacetKind) ([]string, error)
	// ScanFacets derives the same values by scanning every snippet.
	ScanFacets(ctx context.Context, kind FacetKind) ([]string, error)
	// RebuildFacets rewrites the index from a full scan.
	RebuildFacets(ctx context.Context) error
}

// UserRepository stores accounts for both sign-in methods.
type UserRepository interface {
	// Upsert creates or refreshes a GitHub account keyed by GitHubID.
	Upsert(ctx context.Context, user *model.User) error
	// CreateWithPassword inserts an email/password account. A taken email is
	// apperror.ErrConflict.
	CreateWithPassword(ctx context.Context, user *model.User) error
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	GetUserByID(ctx context.Context, id string) (*model.User, error)
}
