package protocol

import (
	"testing"

	"github.com/anthropics/epoch-engine/internal/domain"
)

func TestEmbedded_Parses(t *testing.T) {
	tbl := Embedded()
	if tbl.Version() != 1 {
		t.Errorf("Version = %d, want 1", tbl.Version())
	}
}

func TestEmbedded_PhaseCatalog(t *testing.T) {
	tbl := Embedded()

	want := []domain.PhaseID{
		domain.PhaseRequest,
		domain.PhaseElicitation,
		domain.PhaseProposal,
		domain.PhasePlanReview,
		domain.PhasePlanAcceptance,
		domain.PhaseRatification,
		domain.PhaseHandoff,
		domain.PhaseImplementationPlanning,
		domain.PhaseParallelImplementation,
		domain.PhaseCodeReview,
		domain.PhaseImplementationAcceptance,
		domain.PhaseLanding,
	}
	got := tbl.Phases()
	if len(got) != len(want) {
		t.Fatalf("Phases() returned %d phases, want %d", len(got), len(want))
	}
	for i, id := range want {
		if got[i] != id {
			t.Errorf("Phases()[%d] = %q, want %q", i, got[i], id)
		}
	}

	if tbl.FirstPhase() != domain.PhaseRequest {
		t.Errorf("FirstPhase = %q, want %q", tbl.FirstPhase(), domain.PhaseRequest)
	}
	if tbl.Terminal() != domain.PhaseComplete {
		t.Errorf("Terminal = %q, want %q", tbl.Terminal(), domain.PhaseComplete)
	}
	if !tbl.IsTerminal(domain.PhaseComplete) {
		t.Error("IsTerminal(complete) = false")
	}
	if tbl.IsTerminal(domain.PhaseLanding) {
		t.Error("IsTerminal(landing) = true")
	}
}

func TestEmbedded_Axes(t *testing.T) {
	tbl := Embedded()

	for _, axis := range []string{"correctness", "security", "maintainability"} {
		if !tbl.IsAxis(axis) {
			t.Errorf("IsAxis(%q) = false", axis)
		}
	}
	if tbl.IsAxis("velocity") {
		t.Error("IsAxis(velocity) = true, want false")
	}
	if len(tbl.Axes()) != 3 {
		t.Errorf("Axes() len = %d, want 3", len(tbl.Axes()))
	}
}

func TestEmbedded_Roles(t *testing.T) {
	tbl := Embedded()

	for _, r := range []domain.RoleID{
		domain.RoleOrchestrator,
		domain.RoleArchitect,
		domain.RoleReviewer,
		domain.RoleSupervisor,
		domain.RoleWorker,
	} {
		if !tbl.IsRole(r) {
			t.Errorf("IsRole(%q) = false", r)
		}
	}
	if tbl.IsRole("intern") {
		t.Error("IsRole(intern) = true, want false")
	}
}

func TestEmbedded_Edges(t *testing.T) {
	tbl := Embedded()

	cases := []struct {
		from, to domain.PhaseID
		want     bool
	}{
		{domain.PhaseRequest, domain.PhaseElicitation, true},
		{domain.PhasePlanReview, domain.PhasePlanAcceptance, true},
		{domain.PhasePlanReview, domain.PhaseProposal, true},
		{domain.PhaseCodeReview, domain.PhaseImplementationAcceptance, true},
		{domain.PhaseCodeReview, domain.PhaseParallelImplementation, true},
		{domain.PhaseLanding, domain.PhaseComplete, true},
		{domain.PhaseRequest, domain.PhaseLanding, false},
		{domain.PhaseComplete, domain.PhaseRequest, false},
	}
	for _, c := range cases {
		if got := tbl.HasEdge(c.from, c.to); got != c.want {
			t.Errorf("HasEdge(%s, %s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestEmbedded_GateEdges(t *testing.T) {
	tbl := Embedded()

	if !tbl.IsConsensusEdge(domain.PhasePlanReview, domain.PhasePlanAcceptance) {
		t.Error("plan_review -> plan_acceptance should be a consensus edge")
	}
	if !tbl.IsConsensusEdge(domain.PhaseCodeReview, domain.PhaseImplementationAcceptance) {
		t.Error("code_review -> implementation_acceptance should be a consensus edge")
	}
	if tbl.IsConsensusEdge(domain.PhaseRequest, domain.PhaseElicitation) {
		t.Error("request -> elicitation should not be a consensus edge")
	}

	if !tbl.IsBlockerEdge(domain.PhaseCodeReview, domain.PhaseImplementationAcceptance) {
		t.Error("code_review -> implementation_acceptance should be a blocker edge")
	}
	if tbl.IsBlockerEdge(domain.PhasePlanReview, domain.PhasePlanAcceptance) {
		t.Error("plan_review -> plan_acceptance should not be a blocker edge")
	}

	if !tbl.IsHandoffEdge(domain.PhaseRatification, domain.PhaseHandoff) {
		t.Error("ratification -> handoff should be a handoff edge")
	}
}

func TestEmbedded_RevisionTargets(t *testing.T) {
	tbl := Embedded()

	back, ok := tbl.RevisionTarget(domain.PhasePlanReview)
	if !ok || back != domain.PhaseProposal {
		t.Errorf("RevisionTarget(plan_review) = %q, %v; want proposal, true", back, ok)
	}
	back, ok = tbl.RevisionTarget(domain.PhaseCodeReview)
	if !ok || back != domain.PhaseParallelImplementation {
		t.Errorf("RevisionTarget(code_review) = %q, %v; want parallel_implementation, true", back, ok)
	}
	if _, ok := tbl.RevisionTarget(domain.PhaseRequest); ok {
		t.Error("RevisionTarget(request) should not exist")
	}

	if !tbl.IsReviewPhase(domain.PhasePlanReview) || !tbl.IsReviewPhase(domain.PhaseCodeReview) {
		t.Error("plan_review and code_review should be review phases")
	}
	if tbl.IsReviewPhase(domain.PhaseHandoff) {
		t.Error("handoff should not be a review phase")
	}
}

func TestEmbedded_Constraints(t *testing.T) {
	tbl := Embedded()

	ids := tbl.ConstraintIDs()
	if len(ids) != 26 {
		t.Fatalf("ConstraintIDs len = %d, want 26", len(ids))
	}

	spec, ok := tbl.Constraint("EP-001")
	if !ok {
		t.Fatal("Constraint(EP-001) not found")
	}
	if spec.ID != "EP-001" {
		t.Errorf("spec.ID = %q, want EP-001", spec.ID)
	}
	if spec.Then == "" {
		t.Error("spec.Then is empty")
	}

	if _, ok := tbl.Constraint("EP-999"); ok {
		t.Error("Constraint(EP-999) should not exist")
	}
}

func TestMustConstraint_PanicsOnUnknown(t *testing.T) {
	tbl := Embedded()

	defer func() {
		if recover() == nil {
			t.Error("MustConstraint(EP-999) did not panic")
		}
	}()
	tbl.MustConstraint("EP-999")
}

func TestParse_RejectsDuplicatePhase(t *testing.T) {
	data := []byte(`
version: 1
axes: [correctness]
roles: [orchestrator]
phases:
  - id: request
    seq: 1
    domain: user_facing
    name: Request
    roles: [orchestrator]
    transitions: []
  - id: request
    seq: 2
    domain: user_facing
    name: Request Again
    roles: [orchestrator]
    transitions: []
`)
	if _, err := Parse(data); err == nil {
		t.Fatal("expected duplicate phase id to be rejected")
	}
}

func TestParse_RejectsBadYAML(t *testing.T) {
	if _, err := Parse([]byte("{{not yaml")); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoadTable_MissingFile(t *testing.T) {
	if _, err := LoadTable("/nonexistent/protocol.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestEmbedded_PhaseRolesAndDomains(t *testing.T) {
	tbl := Embedded()

	p, ok := tbl.Phase(domain.PhaseParallelImplementation)
	if !ok {
		t.Fatal("Phase(parallel_implementation) not found")
	}
	if p.Domain != domain.DomainImplementation {
		t.Errorf("Domain = %q, want %q", p.Domain, domain.DomainImplementation)
	}
	foundWorker := false
	for _, r := range p.Roles {
		if r == domain.RoleWorker {
			foundWorker = true
		}
	}
	if !foundWorker {
		t.Error("parallel_implementation should include the worker role")
	}
}
