package share

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	defaultTTLSeconds   = 60
	defaultReadsPerLink = 1
	multipartOverhead   = 1 << 20
)

type shareService interface {
	Store(ctx context.Context, input StoreInput) (StoreResult, error)
	Retrieve(ctx context.Context, id, password string) (RetrieveResult, error)
	Limits() Limits
}

// RegisterRoutes mounts share operations under the provided router group.
func RegisterRoutes(group *gin.RouterGroup, service shareService, publicBaseURL string) {
	handler := &httpHandler{service: service, publicBaseURL: publicBaseURL}
	group.POST("/files", handler.storeFile)
	group.POST("/files/:id/decode", handler.decodeFile)
}

type httpHandler struct {
	service       shareService
	publicBaseURL string
}

type storeResponse struct {
	ID        string    `json:"id"`
	FileName  string    `json:"file_name"`
	MediaType string    `json:"media_type"`
	ExpiresAt time.Time `json:"expires_at"`
	MaxReads  int       `json:"max_reads"`
	ShareLink string    `json:"share_link"`
}

type decodeRequest struct {
	Password string `json:"password" binding:"required"`
}

func (h *httpHandler) storeFile(c *gin.Context) {
	limit := h.service.Limits().MaxPayloadBytes
	if limit > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit+multipartOverhead)
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "file field is required"})
		return
	}
	if limit > 0 && fileHeader.Size > limit {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
		return
	}

	ttlSeconds, err := formInt64(c, "ttl_seconds", defaultTTLSeconds)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ttl_seconds must be an integer"})
		return
	}
	// Range-check in seconds; converting an oversized value to a Duration wraps.
	if maxTTL := h.service.Limits().MaxTTL; ttlSeconds <= 0 || ttlSeconds > int64(maxTTL/time.Second) {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("ttl_seconds must be between 1 and %d", int64(maxTTL/time.Second))})
		return
	}
	maxReads, err := formInt(c, "max_reads", defaultReadsPerLink)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "max_reads must be an integer"})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read uploaded file"})
		return
	}
	defer file.Close()

	payload, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read uploaded file"})
		return
	}

	fileName := c.PostForm("file_name")
	if fileName == "" {
		fileName = fileHeader.Filename
	}
	mediaType := c.PostForm("media_type")
	if mediaType == "" {
		mediaType = fileHeader.Header.Get("Content-Type")
	}

	result, err := h.service.Store(c.Request.Context(), StoreInput{
		Payload:   payload,
		FileName:  fileName,
		MediaType: mediaType,
		Password:  c.PostForm("password"),
		TTL:       time.Duration(ttlSeconds) * time.Second,
		MaxReads:  maxReads,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, storeResponse{
		ID:        result.ID,
		FileName:  result.FileName,
		MediaType: result.MediaType,
		ExpiresAt: result.ExpiresAt,
		MaxReads:  result.MaxReads,
		ShareLink: fmt.Sprintf("%s/decode?id=%s", h.publicBaseURL, result.ID),
	})
}

func (h *httpHandler) decodeFile(c *gin.Context) {
	var req decodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "password is required"})
		return
	}

	result, err := h.service.Retrieve(c.Request.Context(), c.Param("id"), req.Password)
	if err != nil {
		writeError(c, err)
		return
	}

	c.Header("Content-Disposition", contentDisposition(result.FileName))
	c.Header("X-Remaining-Reads", strconv.Itoa(result.RemainingReads))
	c.Data(http.StatusOK, result.MediaType, result.Payload)
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrSizeExceeded):
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
	case errors.Is(err, ErrValidationFailed):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "file not found or expired"})
	case errors.Is(err, ErrAuthenticationFailed):
		c.JSON(http.StatusForbidden, gin.H{"error": "incorrect password"})
	case errors.Is(err, ErrStorageFailed):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage temporarily unavailable"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// contentDisposition encodes name per RFC 6266, using the RFC 2231 form for
// names that are not plain ASCII.
func contentDisposition(name string) string {
	if value := mime.FormatMediaType("attachment", map[string]string{"filename": name}); value != "" {
		return value
	}
	return "attachment"
}

func formInt64(c *gin.Context, key string, fallback int64) (int64, error) {
	raw, ok := c.GetPostForm(key)
	if !ok || raw == "" {
		return fallback, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}

func formInt(c *gin.Context, key string, fallback int) (int, error) {
	raw, ok := c.GetPostForm(key)
	if !ok || raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}
