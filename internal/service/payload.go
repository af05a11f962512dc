package service

import (
	"encoding/json"
	"strings"
)

// PayloadKind tells how the image string was found in the request body.
type PayloadKind int

const (
	// PayloadRaw means the body was used as-is.
	PayloadRaw PayloadKind = iota
	// PayloadEnvelope means the body was JSON and the image was extracted from it.
	PayloadEnvelope
)

func (k PayloadKind) String() string {
	if k == PayloadEnvelope {
		return "envelope"
	}
	return "raw"
}

// Payload is the image string carried by a request body.
type Payload struct {
	Kind  PayloadKind
	Image string
}

// envelopeFields are the object keys an image may be nested under.
var envelopeFields = []string{"body", "image"}

// ParsePayload resolves the request body to an image string. A JSON string
// yields its value, a JSON object yields its "body" or "image" string field,
// and anything else is the image itself. A body that is not JSON is not an error.
func ParsePayload(body string) Payload {
	trimmed := strings.TrimSpace(body)

	switch {
	case strings.HasPrefix(trimmed, `"`):
		var s string
		if err := json.Unmarshal([]byte(trimmed), &s); err == nil {
			return Payload{Kind: PayloadEnvelope, Image: s}
		}
	case strings.HasPrefix(trimmed, "{"):
		var doc map[string]json.RawMessage
		if err := json.Unmarshal([]byte(trimmed), &doc); err == nil {
			for _, field := range envelopeFields {
				raw, ok := doc[field]
				if !ok {
					continue
				}
				var s string
				if err := json.Unmarshal(raw, &s); err == nil {
					return Payload{Kind: PayloadEnvelope, Image: s}
				}
			}
		}
	}

	return Payload{Kind: PayloadRaw, Image: body}
}
