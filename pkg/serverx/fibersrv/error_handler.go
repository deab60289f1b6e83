package fibersrv

import (
	"github.com/gofiber/fiber/v2"
	"github.com/marcodd23/go-micro-dao/pkg/dbx"
	"github.com/marcodd23/go-micro-dao/pkg/errorx"
	"github.com/marcodd23/go-micro-dao/pkg/logx"
	"github.com/marcodd23/go-micro-dao/pkg/validator"
	"github.com/pkg/errors"
)

// ErrorResponse - body of every error reply.
type ErrorResponse struct {
	Status  int                                  `json:"status"`
	Message string                               `json:"message"`
	Details []*validator.ValidationErrorResponse `json:"details,omitempty"`
}

// StatusOf maps a data access error to its HTTP status.
func StatusOf(err error) int {
	var fe *fiber.Error

	switch {
	case errors.As(err, &fe):
		return fe.Code
	case errorx.IsEntityNotFound(err):
		return fiber.StatusNotFound
	case errorx.IsValidationFailed(err):
		return fiber.StatusBadRequest
	case errorx.IsConstraintViolation(err), errorx.IsChainedUpdateFailed(err):
		return fiber.StatusConflict
	case errors.Is(err, dbx.ErrLockNotAvailable):
		return fiber.StatusLocked
	default:
		return fiber.StatusInternalServerError
	}
}

// ErrorHandler renders handler errors as ErrorResponse.
// Server errors are logged with the request context.
func ErrorHandler(c *fiber.Ctx, err error) error {
	status := StatusOf(err)

	resp := ErrorResponse{Status: status, Message: err.Error()}

	var verr *validator.ValidationError
	if errors.As(err, &verr) {
		resp.Details = verr.GetErrorsDetails()
	}

	if status >= fiber.StatusInternalServerError {
		logx.GetLogger().LogError(c.UserContext(), "request failed: "+c.Method()+" "+c.Path(), err)
		resp.Message = "internal error"
	}

	return c.Status(status).JSON(resp)
}
