package problems

import (
	"encoding/json"
	"net/http"
	"os"
	"strings"
)

// Problem type slugs.
const (
	InvalidInput        = "invalid-input"
	MissingPrincipal    = "missing-principal"
	Unauthenticated     = "unauthenticated"
	Forbidden           = "forbidden"
	NotFound            = "not-found"
	Conflict            = "conflict"
	LastAdmin           = "last-admin"
	ProviderUnavailable = "provider-unavailable"
	Internal            = "internal"
)

// Base returns the base URL for problem type identifiers.
// Order of precedence:
// 1. PROBLEM_BASE_URL (exact base, e.g. https://mydomain.com/problems)
// 2. IDS_APP_URL + "/problems" (if set)
// 3. https://idsimplify.io/problems (fallback)
func Base() string {
	if b := os.Getenv("PROBLEM_BASE_URL"); b != "" {
		return strings.TrimRight(b, "/")
	}
	if b := os.Getenv("IDS_APP_URL"); b != "" {
		return strings.TrimRight(b, "/") + "/problems"
	}
	return "https://idsimplify.io/problems"
}

// Type builds a full problem type URL for the given slug.
func Type(slug string) string { return Base() + "/" + slug }

// Problem is an RFC 7807 body.
type Problem struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Write sends an application/problem+json response.
func Write(w http.ResponseWriter, status int, slug, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Problem{Type: Type(slug), Title: http.StatusText(status), Status: status, Detail: detail})
}
