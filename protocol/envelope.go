package protocol

import (
	"github.com/google/uuid"
)

// URNPrefix roots every Signal K resource identifier.
const URNPrefix = "urn:mrn:signalk:uuid:"

// NewUUID returns a fresh version 4 UUID in the canonical hyphenated
// form. Uniqueness with overwhelming probability is all callers rely on.
func NewUUID() string {
	return uuid.New().String()
}

// NewURN returns a domain prefixed identifier of the form
// "urn:mrn:signalk:uuid:<uuid>".
func NewURN() string {
	return URNPrefix + NewUUID()
}

// UpdatesEnvelope returns an empty updates message skeleton for the
// caller to fill in.
func UpdatesEnvelope() map[string]interface{} {
	return map[string]interface{}{
		"context": nil,
		"updates": []interface{}{},
	}
}

// SubscribeEnvelope returns an empty subscribe message skeleton.
func SubscribeEnvelope() map[string]interface{} {
	return map[string]interface{}{
		"context":   nil,
		"subscribe": []interface{}{},
	}
}

// UnsubscribeEnvelope returns an empty unsubscribe message skeleton.
func UnsubscribeEnvelope() map[string]interface{} {
	return map[string]interface{}{
		"context":     nil,
		"unsubscribe": []interface{}{},
	}
}

// RequestEnvelope returns a request skeleton carrying a freshly
// generated request identifier for response correlation.
func RequestEnvelope() map[string]interface{} {
	return map[string]interface{}{
		"requestId": NewUUID(),
	}
}
