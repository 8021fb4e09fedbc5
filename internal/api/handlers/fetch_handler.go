package handlers

import (
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/andresuchdata/fetchers/internal/config"
	"github.com/andresuchdata/fetchers/internal/domain"
	"github.com/andresuchdata/fetchers/internal/fetch"
	"github.com/andresuchdata/fetchers/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// StatusClientClosedRequest is reported when the client went away mid-fetch.
const StatusClientClosedRequest = 499

const AttemptsHeader = "X-Fetch-Attempts"

type FetchHandler struct {
	service *service.FetchService
}

func NewFetchHandler(service *service.FetchService) *FetchHandler {
	return &FetchHandler{service: service}
}

// Fetch streams the item named by ?key=. With ?spool=true the item is
// spooled first and the spooled file is served, then removed.
func (h *FetchHandler) Fetch(c *gin.Context) {
	req := service.FetchRequest{
		Backend: c.Param("backend"),
		Key:     c.Query("key"),
	}
	if raw := strings.TrimSpace(c.Query("spool")); raw != "" {
		spool, err := strconv.ParseBool(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "spool must be a boolean"})
			return
		}
		req.Spool = &spool
	}
	if raw := strings.TrimSpace(c.Query("throttle")); raw != "" {
		throttle, err := config.ParseThrottle(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		req.Throttle = throttle
	}

	out, rec, err := h.service.Fetch(c.Request.Context(), req)
	if rec != nil {
		c.Header(AttemptsHeader, strconv.Itoa(rec.Attempts))
	}
	if err != nil {
		status := StatusFor(err)
		if status >= http.StatusInternalServerError {
			log.Error().Err(err).Str("backend", req.Backend).Str("key", req.Key).Msg("fetch failed")
		}
		c.JSON(status, errorBody(err, rec))
		return
	}

	if out.Spooled() {
		defer removeSpooled(out.Path)
		rc, err := out.Open()
		if err != nil {
			log.Error().Err(err).Str("path", out.Path).Msg("failed to open spooled file")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to open spooled file"})
			return
		}
		defer rc.Close()
		c.DataFromReader(http.StatusOK, out.Size, "application/octet-stream", rc, nil)
		return
	}

	defer out.Body.Close()
	c.DataFromReader(http.StatusOK, out.Size, "application/octet-stream", out.Body, nil)
}

func removeSpooled(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Str("path", path).Msg("failed to remove spooled file")
	}
}

// Status reports the last recorded outcome for ?key=.
func (h *FetchHandler) Status(c *gin.Context) {
	backend, key := c.Param("backend"), c.Query("key")
	if key == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "key is required"})
		return
	}

	rec, ok, err := h.service.LastOutcome(c.Request.Context(), backend, key)
	if err != nil {
		log.Error().Err(err).Str("backend", backend).Msg("failed to load last outcome")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load last outcome"})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no recorded outcome"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

// ResetStatus forgets every recorded outcome of the backend.
func (h *FetchHandler) ResetStatus(c *gin.Context) {
	backend := c.Param("backend")
	if err := h.service.ResetOutcomes(c.Request.Context(), backend); err != nil {
		status := StatusFor(err)
		if status >= http.StatusInternalServerError {
			log.Error().Err(err).Str("backend", backend).Msg("failed to reset outcomes")
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// History lists recent audit log entries for ?key=.
func (h *FetchHandler) History(c *gin.Context) {
	backend, key := c.Param("backend"), c.Query("key")
	if key == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "key is required"})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit <= 0 {
		limit = 20
	}

	recs, err := h.service.History(c.Request.Context(), backend, key, limit)
	if err != nil {
		log.Error().Err(err).Str("backend", backend).Msg("failed to load fetch history")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load fetch history"})
		return
	}
	if recs == nil {
		recs = make([]*domain.FetchRecord, 0)
	}
	c.JSON(http.StatusOK, recs)
}

// Backends lists the configured backend names.
func (h *FetchHandler) Backends(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"backends": h.service.Backends()})
}

// StatusFor maps a fetch failure to an HTTP status.
func StatusFor(err error) int {
	if errors.Is(err, service.ErrUnknownBackend) {
		return http.StatusNotFound
	}
	switch fetch.KindOf(err) {
	case fetch.FailureInvalidKey:
		return http.StatusBadRequest
	case fetch.FailureNotFound:
		return http.StatusNotFound
	case fetch.FailureBackend:
		return http.StatusBadGateway
	case fetch.FailureExhausted:
		return http.StatusServiceUnavailable
	case fetch.FailureCanceled:
		return StatusClientClosedRequest
	default:
		return http.StatusInternalServerError
	}
}

func errorBody(err error, rec *domain.FetchRecord) gin.H {
	body := gin.H{
		"error": err.Error(),
		"kind":  fetch.KindOf(err).String(),
	}
	if rec != nil {
		body["attempts"] = rec.Attempts
		if rec.ErrorCode != "" {
			body["code"] = rec.ErrorCode
		}
	}
	return body
}
