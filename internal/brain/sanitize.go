package brain

import (
	"context"
	"errors"
	"fmt"

	"propflow.app/assist/internal/capability"
)

// toolResultForError maps an execution failure to the string the model sees
// as the tool result. Argument and lookup problems pass through so the model
// can correct itself; everything else is replaced by a generic line, because
// driver and infrastructure error text must never reach the model.
func toolResultForError(name string, err error) string {
	if errors.Is(err, capability.ErrConfirmationRequired) {
		return fmt.Sprintf("The %s request was recorded and is pending human confirmation. Tell the user it will be sent once confirmed.", name)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Sprintf("The %s call timed out. You may retry once or proceed without it.", name)
	}

	var capErr *capability.Error
	if errors.As(err, &capErr) {
		switch capErr.Kind {
		case capability.KindInvalidArguments, capability.KindNotFound:
			return capErr.Message
		}
	}

	return fmt.Sprintf("The %s call failed due to an internal error. Do not retry with the same arguments; tell the user this part could not be completed.", name)
}

// repeatedCallResult is the rejection handed to the model when it keeps
// issuing the same invocation within one run.
func repeatedCallResult(name string) string {
	return fmt.Sprintf("The %s call was already executed with identical arguments in this turn. Use the earlier result instead of calling again.", name)
}
