package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/smartmark/internal/domain"
	"github.com/MrSnakeDoc/smartmark/internal/httpserver/deps"
	"github.com/MrSnakeDoc/smartmark/internal/httpserver/mw"
	"github.com/MrSnakeDoc/smartmark/internal/logger"
	"github.com/MrSnakeDoc/smartmark/internal/repository"
)

type bookmarksResponse struct {
	Bookmarks []domain.Bookmark `json:"bookmarks"`
}

type createBookmarkRequest struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

// Me returns the identity behind the session cookie.
func Me(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, mw.IdentityFrom(r.Context()))
	}
}

func ListBookmarks(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		repo := repository.New(d.Store, mw.IdentityFrom(r.Context()), d.Repository, d.Logger)

		bookmarks, err := repo.List(r.Context())
		if err != nil {
			writeError(w, d.Logger, err)
			return
		}
		writeJSON(w, http.StatusOK, bookmarksResponse{Bookmarks: bookmarks})
	}
}

func CreateBookmark(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createBookmarkRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
			return
		}

		repo := repository.New(d.Store, mw.IdentityFrom(r.Context()), d.Repository, d.Logger)
		bookmark, err := repo.Create(r.Context(), req.URL, req.Title)
		if err != nil {
			writeError(w, d.Logger, err)
			return
		}

		d.Logger.Info("bookmark created",
			logger.String("bookmark_id", bookmark.ID),
			logger.String("owner_id", bookmark.OwnerID))
		writeJSON(w, http.StatusCreated, bookmark)
	}
}

func DeleteBookmark(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		repo := repository.New(d.Store, mw.IdentityFrom(r.Context()), d.Repository, d.Logger)
		if err := repo.Delete(r.Context(), id); err != nil {
			writeError(w, d.Logger, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
