package core_test

import (
	"errors"
	"testing"

	"github.com/ungardev/medops/core"
)

var graph = core.Transitions{
	"pending": {"arrived", "canceled"},
	"arrived": {"in_consultation", "canceled"},
}

func TestTransitions_Can(t *testing.T) {
	if !graph.Can("pending", "arrived") {
		t.Error("pending -> arrived should be allowed")
	}
	if graph.Can("pending", "in_consultation") {
		t.Error("pending -> in_consultation should not be allowed")
	}
	if graph.Can("canceled", "pending") {
		t.Error("terminal states have no outgoing edges")
	}
}

func TestTransitions_Terminal(t *testing.T) {
	if graph.Terminal("pending") {
		t.Error("pending is not terminal")
	}
	if !graph.Terminal("canceled") {
		t.Error("a state with no entry is terminal")
	}
}

func TestTransitions_Step_RejectsWithTransitionError(t *testing.T) {
	err := graph.Step("appointment", "arrived", "pending")
	if err == nil {
		t.Fatal("expected an error for a reversed edge")
	}
	if !errors.Is(err, core.ErrStateTransition) {
		t.Errorf("expected ErrStateTransition, got %v", err)
	}
	var te *core.TransitionError
	if !errors.As(err, &te) {
		t.Fatalf("expected *TransitionError, got %T", err)
	}
	if te.Entity != "appointment" || te.From != "arrived" || te.To != "pending" {
		t.Errorf("error should name the rejected edge, got %v", te)
	}
}

func TestTransitions_Step_AllowsValidEdge(t *testing.T) {
	if err := graph.Step("appointment", "pending", "canceled"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
