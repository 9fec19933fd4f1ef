package cfn

import (
	"errors"

	"github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
	"github.com/aws/smithy-go"
)

// IsNotFound reports whether err means the stack set does not exist on the
// remote side.
func IsNotFound(err error) bool {
	var nf *types.StackSetNotFoundException
	if errors.As(err, &nf) {
		return true
	}
	return hasErrorCode(err, "StackSetNotFoundException")
}

// IsOperationInProgress reports whether err is the contention error raised
// when another operation already holds the stack set's operation slot.
func IsOperationInProgress(err error) bool {
	var op *types.OperationInProgressException
	if errors.As(err, &op) {
		return true
	}
	return hasErrorCode(err, "OperationInProgressException")
}

func hasErrorCode(err error, code string) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == code
}
