package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	base := errors.New("boom")
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"plain error is internal", base, KindInternal},
		{"not found", NotFound("get", "document %s not found", "x"), KindNotFound},
		{"validation", Validation("create", "title is required"), KindValidation},
		{"upstream", Upstream("embed", base), KindUpstream},
		{"wrapped upstream", fmt.Errorf("index chunk 3: %w", Upstream("embed", base)), KindUpstream},
		{"internal", Internal("list", base), KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestError_UnwrapAndMessage(t *testing.T) {
	base := errors.New("status 500")
	err := Upstream("generate", base)
	if !errors.Is(err, base) {
		t.Error("expected errors.Is to reach the wrapped error")
	}
	if err.Error() != "generate: status 500" {
		t.Errorf("Error() = %q", err.Error())
	}
	if Message(err) != "status 500" {
		t.Errorf("Message() = %q", Message(err))
	}

	nf := NotFound("index", "Document not found")
	if nf.Error() != "index: Document not found" {
		t.Errorf("Error() = %q", nf.Error())
	}
	if Message(nf) != "Document not found" {
		t.Errorf("Message() = %q", Message(nf))
	}
	if Message(base) != "status 500" {
		t.Errorf("Message(plain) = %q", Message(base))
	}
}

func TestIs(t *testing.T) {
	if Is(nil, KindInternal) {
		t.Error("nil error should not match any kind")
	}
	if !Is(Validation("x", "bad"), KindValidation) {
		t.Error("expected validation kind")
	}
	if KindUpstream.String() != "upstream" || KindInternal.String() != "internal" {
		t.Error("unexpected kind names")
	}
}
