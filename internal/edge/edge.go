// Package edge is the delivery boundary for direct uploads: it verifies the
// signed upload token and hands the write straight to the object store, so
// the service itself is never in the data path for reads and only passes
// bytes through for tokenized writes.
//
// In production a CDN function performs the same checks; this handler is the
// self-hosted equivalent and the reference for the token contract.
package edge

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"paydrop/internal/logging"
	"paydrop/internal/storage"
	"paydrop/internal/token"
)

// tokenParam is the query parameter carrying the upload token.
const tokenParam = "t"

// Handler serves GET/HEAD reads publicly and PUT writes behind a token.
type Handler struct {
	codec   *token.Codec
	objects storage.ObjectStore

	now func() time.Time
}

// NewHandler returns the edge handler.
func NewHandler(codec *token.Codec, objects storage.ObjectStore) *Handler {
	return &Handler{codec: codec, objects: objects, now: time.Now}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet, http.MethodHead:
		// Read paths are public by design.
		h.serveRead(w, r)
	case http.MethodPut:
		h.servePut(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) servePut(w http.ResponseWriter, r *http.Request) {
	tok := r.URL.Query().Get(tokenParam)
	if tok == "" {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	if err := h.codec.Verify(r.URL.Path, tok, h.now()); err != nil {
		switch {
		case errors.Is(err, token.ErrExpired):
			http.Error(w, "token expired", http.StatusForbidden)
		case errors.Is(err, token.ErrInvalidSignature):
			http.Error(w, "invalid token", http.StatusForbidden)
		default:
			http.Error(w, "forbidden", http.StatusForbidden)
		}
		return
	}

	// The token is consumed here: strip it so it is never forwarded or
	// logged as part of the final resource path.
	r.URL.RawQuery = ""

	key := r.URL.Path[1:] // leading slash off the storage key
	size, err := h.objects.Put(r.Context(), key, r.Body, r.ContentLength, r.Header.Get("Content-Type"))
	if err != nil {
		logging.Storage.Printf("edge put failed for %s: %v", key, err)
		http.Error(w, "upload failed", http.StatusBadGateway)
		return
	}

	logging.Storage.Printf("edge put %s (%d bytes)", key, size)
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) serveRead(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Path[1:]

	if r.Method == http.MethodHead {
		head, err := h.objects.Head(r.Context(), key)
		if err != nil || !head.Exists {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Length", strconv.FormatInt(head.Size, 10))
		w.WriteHeader(http.StatusOK)
		return
	}

	obj, err := h.objects.Get(r.Context(), key)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer obj.Close()

	if _, err := io.Copy(w, obj); err != nil {
		logging.Storage.Printf("edge read failed for %s: %v", key, err)
	}
}
