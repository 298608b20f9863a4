package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/geniusreads/conceptd/internal/analysis"
)

type apiError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type errorEnvelope struct {
	Error apiError `json:"error"`
}

func respondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.AbortWithStatusJSON(status, errorEnvelope{Error: apiError{Message: msg, Code: code}})
}

// statusFor maps an error class to an HTTP status
func statusFor(kind analysis.ErrorKind) int {
	switch kind {
	case analysis.KindNone:
		return http.StatusOK
	case analysis.KindConfiguration:
		return http.StatusBadRequest
	case analysis.KindUpstream:
		return http.StatusBadGateway
	case analysis.KindConflict:
		return http.StatusConflict
	case analysis.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func respondStoreError(c *gin.Context, err error) {
	kind := analysis.Kind(err)
	if kind == analysis.KindInternal {
		kind = analysis.KindPersistence
	}
	respondError(c, statusFor(kind), string(kind), err)
}

var errBadID = errors.New("invalid id")

func pathID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid_id", errBadID)
		return uuid.Nil, false
	}
	return id, true
}

func queryInt(c *gin.Context, key string, def int) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil {
		return def
	}
	return v
}

func queryFloat(c *gin.Context, key string, def float64) float64 {
	v, err := strconv.ParseFloat(c.Query(key), 64)
	if err != nil {
		return def
	}
	return v
}
