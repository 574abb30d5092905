package payload

import "errors"

// Kind is the taxonomic name of a failure, sent as NativeType.
type Kind string

// Failure kinds reported to the caller.
const (
	KindNotFound        Kind = "NotFound"
	KindInvalidArgument Kind = "InvalidArgument"
	KindSdkFailure      Kind = "SdkFailure"
	KindAlreadyConsumed Kind = "AlreadyConsumed"
)

// Sentinels for the failure kinds the bridge detects itself. Wrap them with
// fmt.Errorf("%w: ...") to add detail. Any other error is an SdkFailure.
var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrAlreadyConsumed = errors.New("already consumed")
)

// KindOf classifies err.
func KindOf(err error) Kind {
	switch {
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrInvalidArgument):
		return KindInvalidArgument
	case errors.Is(err, ErrAlreadyConsumed):
		return KindAlreadyConsumed
	default:
		return KindSdkFailure
	}
}
