package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rhadityaaa/ewd-tools/internal/application/port"
	"github.com/rhadityaaa/ewd-tools/internal/application/workflow"
)

// Response represents a standard JSON response.
// Failed workflow operations also carry the report state after the failure.
type Response struct {
	Success       bool        `json:"success"`
	Data          interface{} `json:"data,omitempty"`
	Error         string      `json:"error,omitempty"`
	Code          string      `json:"code,omitempty"`
	CurrentStatus string      `json:"current_status,omitempty"`
	CurrentStep   string      `json:"current_step,omitempty"`
}

// statusFor maps an application error to an HTTP status and error code
func statusFor(err error) (int, string) {
	if errors.Is(err, port.ErrNotFound) {
		return http.StatusNotFound, workflow.KindNotFound.String()
	}

	kind := workflow.KindOf(err)
	switch kind {
	case workflow.KindValidation:
		return http.StatusBadRequest, kind.String()
	case workflow.KindAuthorization:
		return http.StatusForbidden, kind.String()
	case workflow.KindNotFound:
		return http.StatusNotFound, kind.String()
	case workflow.KindPrecondition:
		return http.StatusConflict, kind.String()
	case workflow.KindConfiguration:
		return http.StatusServiceUnavailable, kind.String()
	default:
		return http.StatusInternalServerError, kind.String()
	}
}

func ok(c *gin.Context, status int, data interface{}) {
	c.JSON(status, Response{Success: true, Data: data})
}

func fail(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, Response{Success: false, Error: msg, Code: code})
}

// failErr writes err with its mapped status. Internal errors are not echoed.
func (h *Handlers) failErr(c *gin.Context, op string, err error) {
	status, code := statusFor(err)

	resp := Response{Success: false, Code: code, Error: err.Error()}
	if status == http.StatusInternalServerError {
		resp.Error = "internal error"
		h.logger.Error("Request failed", "op", op, "path", c.Request.URL.Path, "error", err)
	}

	var wfErr *workflow.WorkflowError
	if errors.As(err, &wfErr) {
		resp.CurrentStatus = string(wfErr.Status)
		resp.CurrentStep = string(wfErr.CurrentStep)
	}
	c.AbortWithStatusJSON(status, resp)
}
