package apierrors

import (
	"database/sql"
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/goatkit/tickettransfer/internal/instrument"
	"github.com/goatkit/tickettransfer/internal/service/remoterpc"
	"github.com/goatkit/tickettransfer/internal/service/transfer"
	"github.com/goatkit/tickettransfer/internal/service/transferconfig"
)

// CodeFor maps a service error to a registered code. Unrecognised errors are
// internal errors.
func CodeFor(err error) string {
	var (
		validation *transfer.ValidationError
		auth       *remoterpc.AuthenticationError
		remote     *remoterpc.RemoteCallError
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, transferconfig.ErrDuplicateName):
		return CodeConflict
	case errors.As(err, &validation):
		return CodeTransferValidation
	case errors.As(err, &auth):
		return CodeTransferAuth
	case instrument.IsTimeout(err):
		return CodeTransferTimeout
	case errors.As(err, &remote):
		return CodeTransferRemoteCall
	case errors.Is(err, sql.ErrNoRows):
		return CodeNotFound
	default:
		return CodeInternalError
	}
}

// FromError sends the response for err. Internal errors keep the generic
// message so driver details are not leaked to clients.
func FromError(c *gin.Context, err error) {
	code := CodeFor(err)
	if code == CodeInternalError || code == CodeNotFound {
		Error(c, code)
		return
	}
	ErrorWithMessage(c, code, err.Error())
}
