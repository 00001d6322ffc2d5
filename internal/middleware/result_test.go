package middleware

import (
	"testing"

	"github.com/qcrawl/qcrawl/internal/types"
)

func TestResult_ZeroValueIsInvalid(t *testing.T) {
	var r Result
	if r.Valid() {
		t.Fatal("zero-value Result must not be Valid")
	}
}

func TestResult_Constructors(t *testing.T) {
	if a := Continue(); !a.Valid() || a.Action() != ActionContinue {
		t.Fatalf("Continue() = %+v", a)
	}
	resp := &types.Response{StatusCode: 200}
	if k := Keep(resp); !k.Valid() || k.Action() != ActionKeep || k.Response() != resp {
		t.Fatalf("Keep() = %+v", k)
	}
	req := types.NewRequest("https://example.com/")
	if r := Retry(req); !r.Valid() || r.Action() != ActionRetry || r.NewRequest() != req {
		t.Fatalf("Retry() = %+v", r)
	}
	if d := Drop(); !d.Valid() || d.Action() != ActionDrop {
		t.Fatalf("Drop() = %+v", d)
	}
}
