package access

import (
	"errors"
	"net/http"
	"strconv"
)

// Kind classifies why a call was not admitted.
type Kind string

const (
	KindMissingKey    Kind = "missing_key"
	KindInvalidKey    Kind = "invalid_key"
	KindExpired       Kind = "expired"
	KindTooFrequent   Kind = "too_frequent"
	KindQuotaExceeded Kind = "quota_exceeded"
)

// ErrInvalidArgument is returned by Renew for non-positive inputs.
var ErrInvalidArgument = errors.New("invalid argument")

// Rejection is the structured refusal handed to the transport layer.
type Rejection struct {
	Kind    Kind
	Message string
	// RequiredInterval is the minimum spacing in seconds, set for KindTooFrequent.
	RequiredInterval float64
}

func (r *Rejection) Error() string {
	return r.Message
}

// Status maps the rejection to an HTTP status code.
func (r *Rejection) Status() int {
	switch r.Kind {
	case KindTooFrequent, KindQuotaExceeded:
		return http.StatusTooManyRequests
	default:
		return http.StatusUnauthorized
	}
}

func reject(kind Kind) *Rejection {
	switch kind {
	case KindMissingKey:
		return &Rejection{Kind: kind, Message: "API key missing"}
	case KindInvalidKey:
		return &Rejection{Kind: kind, Message: "Invalid API key"}
	case KindExpired:
		return &Rejection{Kind: kind, Message: "API key expired"}
	case KindQuotaExceeded:
		return &Rejection{Kind: kind, Message: "Monthly quota exceeded"}
	}
	return &Rejection{Kind: kind, Message: string(kind)}
}

func tooFrequent(interval float64) *Rejection {
	return &Rejection{
		Kind:             KindTooFrequent,
		Message:          "Requests must be at least " + strconv.FormatFloat(interval, 'f', -1, 64) + " seconds apart",
		RequiredInterval: interval,
	}
}

// AsRejection unwraps err into a *Rejection if it is one.
func AsRejection(err error) (*Rejection, bool) {
	var r *Rejection
	if errors.As(err, &r) {
		return r, true
	}
	return nil, false
}
