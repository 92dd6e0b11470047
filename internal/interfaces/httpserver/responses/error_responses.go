package responses

import (
	"errors"
	"net/http"

	"capsule-server/services/capsule-api/internal/utils/platformerrors"

	"github.com/gin-gonic/gin"
)

// ErrorResponse carries the stable machine-readable code plus a
// human-readable message. Code is what API clients branch on; the UUID
// identifies the exact failure site in logs.
type ErrorResponse struct {
	Code          string `json:"code"`
	Error         string `json:"error"`
	Message       string `json:"message,omitempty"`
	ErrorUUID     string `json:"error_uuid,omitempty"`
	ErrorInstance error  `json:"-"`
	RequestID     string `json:"request_id,omitempty"`
}

// HandleError maps domain errors to HTTP responses.
func HandleError(reqCtx *gin.Context, err error, message string) {
	var domainErr *platformerrors.PlatformError
	if errors.As(err, &domainErr) {
		statusCode := platformerrors.ErrorTypeToHTTPStatus(domainErr.GetErrorType())

		errorMessage := domainErr.Message
		if errorMessage == "" {
			errorMessage = message
		}

		errResp := ErrorResponse{
			Code:          platformerrors.ErrorTypeToCode(domainErr.GetErrorType()),
			Error:         errorMessage,
			Message:       errorMessage,
			ErrorUUID:     domainErr.GetUUID(),
			ErrorInstance: domainErr,
			RequestID:     domainErr.GetRequestID(),
		}

		reqCtx.AbortWithStatusJSON(statusCode, errResp)
		return
	}
	// Non-platform errors
	errResp := ErrorResponse{
		Code:          platformerrors.ErrorTypeToCode(platformerrors.ErrorTypeInternal),
		Error:         message,
		Message:       message,
		ErrorInstance: err,
	}
	reqCtx.AbortWithStatusJSON(http.StatusInternalServerError, errResp)
}

// HandleNewError creates a new typed error at the route layer and handles it
func HandleNewError(reqCtx *gin.Context, errorType platformerrors.ErrorType, message string, uuid string) {
	ctx := reqCtx.Request.Context()
	err := platformerrors.NewError(ctx, platformerrors.LayerRoute, errorType, message, nil, uuid)

	statusCode := platformerrors.ErrorTypeToHTTPStatus(err.GetErrorType())

	errResp := ErrorResponse{
		Code:          platformerrors.ErrorTypeToCode(errorType),
		Error:         message,
		Message:       message,
		ErrorUUID:     err.GetUUID(),
		ErrorInstance: err,
		RequestID:     err.GetRequestID(),
	}

	reqCtx.AbortWithStatusJSON(statusCode, errResp)
}
