package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	types "github.com/yungbote/shifu-backend/internal/domain/learn"
	"github.com/yungbote/shifu-backend/internal/platform/apierr"
)

const retryAfterSeconds = "1"

// Describe maps err onto the status, code and client-safe message it is reported with.
func Describe(err error) (int, string, string) {
	var ae *apierr.Error
	if errors.As(err, &ae) {
		return apierr.StatusOf(err), ae.Code, ae.Error()
	}
	code := types.CodeOf(err)
	if types.IsConfigError(err) {
		return http.StatusInternalServerError, string(code), "course content is misconfigured"
	}
	switch code {
	case types.CodeNotFound:
		return http.StatusNotFound, string(code), err.Error()
	case types.CodeValidation, types.CodeStaleInput:
		return http.StatusBadRequest, string(code), err.Error()
	case types.CodeBusy:
		return http.StatusTooManyRequests, string(code), "another run is in progress"
	case types.CodeConflict:
		return http.StatusConflict, string(code), err.Error()
	case types.CodeUpstream:
		return http.StatusBadGateway, string(code), "upstream service failed"
	default:
		return http.StatusInternalServerError, string(types.CodeInternal), "internal error"
	}
}

// RespondAppError writes err as a JSON error envelope.
func RespondAppError(c *gin.Context, err error) {
	status, code, msg := Describe(err)
	if status == http.StatusTooManyRequests {
		c.Header("Retry-After", retryAfterSeconds)
	}
	_ = c.Error(err)
	writeError(c, status, code, msg)
}
