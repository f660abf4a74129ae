package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/edumarques81/bandfront-demo-service/internal/audio"
	"github.com/edumarques81/bandfront-demo-service/internal/domain/catalog"
	"github.com/edumarques81/bandfront-demo-service/internal/domain/demo"
)

// ProductResponse is a product with its effective demo settings.
type ProductResponse struct {
	*catalog.Product
	Demo catalog.DemoSettings `json:"demo"`
}

// ProductRequest is the body of PUT /api/v1/products/{id}.
type ProductRequest struct {
	catalog.Product
	// DeleteDemos drops the product's cached files after saving, so the
	// next play regenerates them with the new settings.
	DeleteDemos bool `json:"deleteDemos,omitempty"`
}

type purchaseRequest struct {
	Email string `json:"email"`
}

// FileTypeResponse is the audio classification of a product file.
type FileTypeResponse struct {
	Kind  audio.Kind `json:"kind,omitempty"`
	Audio bool       `json:"audio"`
}

type purgeResponse struct {
	Removed int `json:"removed"`
}

func productID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil && id > 0
}

// writeDomainError maps service errors onto status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, catalog.ErrProductNotFound),
		errors.Is(err, catalog.ErrFileNotFound),
		errors.Is(err, demo.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, catalog.ErrInvalidProduct):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		log.Error().Err(err).Msg("API request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := productID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid product id")
		return
	}
	p, err := s.catalog.Product(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ProductResponse{Product: p, Demo: s.catalog.DemoSettings(p)})
}

func (s *Server) handlePutProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := productID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid product id")
		return
	}

	var req ProductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.ID = id

	if err := s.catalog.SaveProduct(r.Context(), &req.Product); err != nil {
		writeDomainError(w, err)
		return
	}
	if req.DeleteDemos {
		if _, err := s.demos.PurgeProduct(r.Context(), id); err != nil {
			log.Warn().Err(err).Int64("product", id).Msg("Failed to delete product demos")
		}
	}

	p, err := s.catalog.Product(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ProductResponse{Product: p, Demo: s.catalog.DemoSettings(p)})
}

func (s *Server) handleRecordPurchase(w http.ResponseWriter, r *http.Request) {
	id, ok := productID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid product id")
		return
	}
	var req purchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.catalog.RecordPurchase(r.Context(), id, req.Email); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAudioURL(w http.ResponseWriter, r *http.Request) {
	id, ok := productID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid product id")
		return
	}
	out, err := s.demos.AudioURL(r.Context(), id, chi.URLParam(r, "index"), s.requester(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleFileType(w http.ResponseWriter, r *http.Request) {
	id, ok := productID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid product id")
		return
	}
	kind, isAudio, err := s.demos.FileType(r.Context(), id, chi.URLParam(r, "index"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, FileTypeResponse{Kind: kind, Audio: isAudio})
}

func (s *Server) handlePurge(w http.ResponseWriter, r *http.Request) {
	removed, err := s.demos.Purge(r.Context())
	if err != nil {
		log.Warn().Err(err).Int("removed", removed).Msg("Demo purge incomplete")
	}
	writeJSON(w, http.StatusOK, purgeResponse{Removed: removed})
}

func (s *Server) handlePurgeProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := productID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid product id")
		return
	}
	removed, err := s.demos.PurgeProduct(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, purgeResponse{Removed: removed})
}
