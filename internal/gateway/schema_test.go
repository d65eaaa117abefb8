package gateway

import (
	"errors"
	"net"
	"syscall"
	"testing"

	openai "github.com/openai/openai-go/v3"
)

func TestDecodeEnvelope(t *testing.T) {
	schema, err := compileEnvelopeSchema()
	if err != nil {
		t.Fatalf("compileEnvelopeSchema() error = %v", err)
	}

	cases := []struct {
		name    string
		content string
		want    Envelope
		ok      bool
	}{
		{
			name:    "bare json",
			content: `{"title":"Slide 3","markup":"# Heading\n\nBody."}`,
			want:    Envelope{Title: "Slide 3", Markup: "# Heading\n\nBody."},
			ok:      true,
		},
		{
			name:    "fenced json",
			content: "```json\n{\"title\":\"T\",\"markup\":\"M\"}\n```",
			want:    Envelope{Title: "T", Markup: "M"},
			ok:      true,
		},
		{
			name:    "json with surrounding prose",
			content: "Here is the result:\n{\"title\":\"T\",\"markup\":\"M\"}\nDone.",
			want:    Envelope{Title: "T", Markup: "M"},
			ok:      true,
		},
		{
			name:    "missing required field",
			content: `{"title":"only a title"}`,
			ok:      false,
		},
		{
			name:    "extra field rejected",
			content: `{"title":"T","markup":"M","extra":1}`,
			ok:      false,
		},
		{
			name:    "not json at all",
			content: "# Just markup\n\nNo envelope here.",
			ok:      false,
		},
		{
			name:    "empty content",
			content: "",
			ok:      false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := decodeEnvelope(schema, tc.content)
			if ok != tc.ok {
				t.Fatalf("ok = %v, want %v", ok, tc.ok)
			}
			if ok && got != tc.want {
				t.Fatalf("envelope = %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		kind ErrorKind
	}{
		{"rate limit", &openai.Error{StatusCode: 429}, KindTransient},
		{"request timeout", &openai.Error{StatusCode: 408}, KindTransient},
		{"server error", &openai.Error{StatusCode: 500}, KindTransient},
		{"bad gateway", &openai.Error{StatusCode: 502}, KindTransient},
		{"unauthorized", &openai.Error{StatusCode: 401}, KindPermanent},
		{"bad request", &openai.Error{StatusCode: 400}, KindPermanent},
		{"not found", &openai.Error{StatusCode: 404}, KindPermanent},
		{"connection reset", syscall.ECONNRESET, KindTransient},
		{"connection refused", syscall.ECONNREFUSED, KindTransient},
		{"dial timeout", &net.DNSError{IsTimeout: true}, KindTransient},
		{"plain error", errors.New("schema rejected"), KindPermanent},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			se := classify(tc.err)
			if se.Kind != tc.kind {
				t.Fatalf("kind = %s, want %s", se.Kind, tc.kind)
			}
			if !errors.Is(se, tc.err) {
				t.Fatal("classified error must unwrap to the original")
			}
		})
	}
}
