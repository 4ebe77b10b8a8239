package errors

import (
	stderrors "errors"
	"strings"
	"testing"
)

func TestError_Format(t *testing.T) {
	err := New(PhaseTranslate, KindMissingMapping).
		Pass("kts").
		Block("block3").
		Value("v17").
		Detail("source value has no destination binding").
		Build()

	msg := err.Error()
	for _, want := range []string{"[translate]", "missing_mapping", "kts", "block3", "v17"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message %q missing %q", msg, want)
		}
	}
}

func TestError_Is(t *testing.T) {
	err := MissingMapping("fts", "block0", "v2")
	if !stderrors.Is(err, &Error{Phase: PhaseTranslate, Kind: KindMissingMapping}) {
		t.Error("expected Is match on phase+kind")
	}
	if stderrors.Is(err, &Error{Phase: PhaseTranslate, Kind: KindDepthExceeded}) {
		t.Error("unexpected Is match on different kind")
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := stderrors.New("boom")
	err := LazyParse("func4", cause)
	if !stderrors.Is(err, cause) {
		t.Error("cause not reachable through Unwrap")
	}
	if !strings.Contains(err.Error(), "boom") {
		t.Error("cause missing from message")
	}
}

func TestIrreducible(t *testing.T) {
	err := Irreducible("block4", "block2")
	if err.Kind != KindIrreducibleCfg {
		t.Fatalf("kind = %s", err.Kind)
	}
	if !strings.Contains(err.Error(), "block4") || !strings.Contains(err.Error(), "block2") {
		t.Errorf("edge endpoints missing from %q", err.Error())
	}
}

func TestError_Dump(t *testing.T) {
	err := New(PhaseIR, KindStructuralInvariant).
		Detail("inconsistent successors").
		Dump("block0:\n  br block1").
		Build()
	if !strings.Contains(err.Error(), "br block1") {
		t.Error("dump not rendered")
	}
}
