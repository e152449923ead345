package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"example.com/backstage/services/salesdesk/internal/command"
	"example.com/backstage/services/salesdesk/internal/processor"
	"example.com/backstage/services/salesdesk/internal/rules"
)

// submit builds an envelope for the current actor, runs it through the
// processor, and writes the mapped HTTP response
func (s *Server) submit(c *gin.Context, kind command.Kind, payload interface{}, idemKey string) {
	env, err := command.New(kind, currentEmployee(c).ID, payload, idemKey)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := s.proc.Submit(c.Request.Context(), env)
	if err != nil {
		// Durably enqueued but not applied: an earlier envelope is
		// jamming the queue. The sweep retries it.
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":      "command accepted but deferred, retry shortly",
			"command_id": env.ID,
		})
		return
	}

	writeResult(c, res)
}

// writeResult maps a processed command outcome onto an HTTP response:
// applied 200, validation 422, invalid state 409, not found 404,
// authorization 403, anything else 500.
func writeResult(c *gin.Context, res processor.Result) {
	if res.Applied() {
		body := gin.H{"outcome": res.Outcome}
		if res.RecordID != "" {
			body["record_id"] = res.RecordID
		}
		if len(res.Rows) > 0 {
			body["rows"] = res.Rows
		}
		if res.Duplicate {
			body["duplicate"] = true
		}
		c.JSON(http.StatusOK, body)
		return
	}

	body := gin.H{"outcome": res.Outcome, "error": res.Err.Error()}

	var ve *rules.ValidationError
	if errors.As(res.Err, &ve) && len(ve.Violations) > 0 {
		body["violations"] = ve.Violations
	}

	c.JSON(statusFor(res.Err), body)
}

func statusFor(err error) int {
	var (
		ve *rules.ValidationError
		se *rules.InvalidStateError
		ne *rules.NotFoundError
		ae *rules.AuthorizationError
	)
	switch {
	case errors.As(err, &ve):
		return http.StatusUnprocessableEntity
	case errors.As(err, &se):
		return http.StatusConflict
	case errors.As(err, &ne):
		return http.StatusNotFound
	case errors.As(err, &ae):
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}
