package domain

import (
	"sort"
	"time"
)

// Bookmark is a single saved link owned by one identity.
// Bookmarks are immutable once created; the only mutation is deletion.
type Bookmark struct {
	// ─────────────────────────────
	// Identity (immutable)
	// ─────────────────────────────

	// ID is a ULID generated at creation time.
	ID string `json:"id"`

	// OwnerID is the Identity.ID that was active when the bookmark was created.
	OwnerID string `json:"owner_id"`

	// ─────────────────────────────
	// Content
	// ─────────────────────────────

	// URL is an absolute http or https URL.
	// Example: https://go.dev/doc/
	URL string `json:"url"`

	// Title is the display title, sanitized before it reaches view state.
	// Falls back to URL when blank.
	Title string `json:"title"`

	// ─────────────────────────────
	// Metadata
	// ─────────────────────────────

	// CreatedAt orders the list (newest first).
	CreatedAt time.Time `json:"created_at"`
}

// SortNewestFirst orders bookmarks by CreatedAt descending.
// Ties are broken by ID descending so the order is stable across fetches.
func SortNewestFirst(bookmarks []Bookmark) {
	sort.SliceStable(bookmarks, func(i, j int) bool {
		a, b := bookmarks[i], bookmarks[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})
}
