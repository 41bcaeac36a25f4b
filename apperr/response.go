package apperr

import "net/http"

// Payload is the wire form of an error returned to API and tool callers.
type Payload struct {
	Kind    Kind     `json:"kind"`
	Rule    string   `json:"rule,omitempty"`
	Message string   `json:"message"`
	Details []string `json:"details,omitempty"`
}

// ToPayload converts err for transport. Errors outside the taxonomy are
// reported as unexpected with a generic message so internals do not leak.
func ToPayload(err error) Payload {
	if ae, ok := As(err); ok {
		return Payload{Kind: ae.Kind, Rule: ae.Rule, Message: ae.Message, Details: ae.Details}
	}
	return Payload{Kind: KindUnexpected, Message: "internal error"}
}

// HTTPStatus maps the kind of err to a response status.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindTimeout:
		return http.StatusGatewayTimeout
	case "":
		return http.StatusOK
	default:
		return http.StatusInternalServerError
	}
}
