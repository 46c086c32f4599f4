// Package model defines the data structures used throughout the application.
// In Go, we use structs to represent our data, similar to classes in other languages,
// but without inheritance. Go favours composition over inheritance.
package model

import "time"

// SuggestedLanguages is the list offered by the create form. Language is
// free-form, so anything outside this list is still accepted.
var SuggestedLanguages = []string{
	"JavaScript", "TypeScript", "Python", "Go", "Rust", "Java", "C", "C++",
	"C#", "Ruby", "PHP", "Swift", "Kotlin", "SQL", "HTML", "CSS", "Shell",
}

// Snippet represents a saved code snippet.
// The `json:"..."` tags tell Go's encoding/json package how to serialize/deserialize
// this struct to/from JSON. This is called a "struct tag", metadata attached to fields.
//
// The JSON field names are the wire contract shared with the browser UI and
// any tooling that reads the snippets collection, so they use camelCase.
//
// POINTER FIELDS:
//   - Framework is *string because "no framework" is stored as NULL and must
//     serialise as null, not "".
//   - CreatedAt is *time.Time because rows imported before the column existed
//     have no creation time. The sorters treat nil as "earliest possible".
type Snippet struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Code        string     `json:"code"`
	Language    string     `json:"language"`
	Framework   *string    `json:"framework"`
	Tags        []string   `json:"tags"`
	IsPublic    bool       `json:"isPublic"`
	Author      string     `json:"author"`
	UserID      string     `json:"userId"`
	CreatedAt   *time.Time `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	Rating      float64    `json:"rating"`
	NumRatings  int        `json:"numRatings"`
}

// SnippetDraft is the input for creating a snippet. The store fills in the
// ID, timestamps and rating counters.
type SnippetDraft struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Code        string   `json:"code"`
	Language    string   `json:"language"`
	Framework   *string  `json:"framework"`
	Tags        []string `json:"tags"`
	IsPublic    *bool    `json:"isPublic"`
	Author      string   `json:"author"`
	UserID      string   `json:"-"`
}

// Public reports the draft's visibility; snippets are public unless the
// caller explicitly says otherwise.
func (d SnippetDraft) Public() bool {
	return d.IsPublic == nil || *d.IsPublic
}

// SnippetPatch is a partial update. A nil field means "leave unchanged".
//
// Framework uses a double pointer so a caller can distinguish "don't touch"
// (nil) from "clear it" (pointer to nil).
type SnippetPatch struct {
	Title       *string   `json:"title,omitempty"`
	Description *string   `json:"description,omitempty"`
	Code        *string   `json:"code,omitempty"`
	Language    *string   `json:"language,omitempty"`
	Framework   **string  `json:"framework,omitempty"`
	Tags        *[]string `json:"tags,omitempty"`
	IsPublic    *bool     `json:"isPublic,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p SnippetPatch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.Code == nil &&
		p.Language == nil && p.Framework == nil && p.Tags == nil && p.IsPublic == nil
}

// Apply merges the patch into s. Fields not present in the patch are left as
// they are. Identity, ownership and timestamps are never touched here.
func (p SnippetPatch) Apply(s *Snippet) {
	if p.Title != nil {
		s.Title = *p.Title
	}
	if p.Description != nil {
		s.Description = *p.Description
	}
	if p.Code != nil {
		s.Code = *p.Code
	}
	if p.Language != nil {
		s.Language = *p.Language
	}
	if p.Framework != nil {
		s.Framework = *p.Framework
	}
	if p.Tags != nil {
		s.Tags = append([]string{}, (*p.Tags)...)
	}
	if p.IsPublic != nil {
		s.IsPublic = *p.IsPublic
	}
}
