package service

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParsePayload(t *testing.T) {
	tests := []struct {
		name string
		body string
		want Payload
	}{
		{"bare base64", "aGVsbG8=", Payload{Kind: PayloadRaw, Image: "aGVsbG8="}},
		{"data uri", "data:image/jpeg;base64,aGVsbG8=", Payload{Kind: PayloadRaw, Image: "data:image/jpeg;base64,aGVsbG8="}},
		{"json string", `"aGVsbG8="`, Payload{Kind: PayloadEnvelope, Image: "aGVsbG8="}},
		{"json string with whitespace", " \"aGVsbG8=\"\n", Payload{Kind: PayloadEnvelope, Image: "aGVsbG8="}},
		{"object body field", `{"body":"aGVsbG8="}`, Payload{Kind: PayloadEnvelope, Image: "aGVsbG8="}},
		{"object image field", `{"image":"aGVsbG8="}`, Payload{Kind: PayloadEnvelope, Image: "aGVsbG8="}},
		{"body wins over image", `{"image":"b","body":"a"}`, Payload{Kind: PayloadEnvelope, Image: "a"}},
		{"non-string field falls back to image", `{"body":1,"image":"b"}`, Payload{Kind: PayloadEnvelope, Image: "b"}},
		{"object without image", `{"url":"x"}`, Payload{Kind: PayloadRaw, Image: `{"url":"x"}`}},
		{"unterminated string", `"aGVsbG8=`, Payload{Kind: PayloadRaw, Image: `"aGVsbG8=`}},
		{"json number", `42`, Payload{Kind: PayloadRaw, Image: `42`}},
		{"empty", "", Payload{Kind: PayloadRaw, Image: ""}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, ParsePayload(tt.body)); diff != "" {
				t.Errorf("ParsePayload(%q) mismatch (-want +got):\n%s", tt.body, diff)
			}
		})
	}
}

func TestPayloadKind_String(t *testing.T) {
	if PayloadRaw.String() != "raw" || PayloadEnvelope.String() != "envelope" {
		t.Errorf("unexpected kind names %q/%q", PayloadRaw, PayloadEnvelope)
	}
}
