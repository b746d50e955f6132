// Package protocol loads and serves the immutable protocol definition table:
// phases, transitions, constraints, roles, and the gate edges that the state
// machine and rule engine read. The table is versioned, pre-validated input;
// nothing in the engine mutates it at runtime.
package protocol

import (
	_ "embed"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/anthropics/epoch-engine/internal/domain"
)

//go:embed protocol.yaml
var embeddedTable []byte

// Phase is one entry of the phase catalog.
type Phase struct {
	ID          domain.PhaseID
	Seq         int
	Domain      domain.PhaseDomain
	Name        string
	Roles       []domain.RoleID
	Transitions []domain.Transition
}

type edge struct {
	from, to domain.PhaseID
}

// Table is the immutable protocol definition table. Safe for concurrent
// read-only use.
type Table struct {
	version     int
	axes        []string
	roles       map[domain.RoleID]bool
	roleOrder   []domain.RoleID
	phases      map[domain.PhaseID]*Phase
	phaseOrder  []domain.PhaseID
	constraints map[string]domain.ConstraintSpec
	consensus   map[edge]bool
	blocker     map[edge]bool
	handoff     map[edge]bool
	revision    map[domain.PhaseID]domain.PhaseID
}

// yamlTable mirrors the on-disk YAML shape.
type yamlTable struct {
	Version int      `yaml:"version"`
	Axes    []string `yaml:"axes"`
	Roles   []string `yaml:"roles"`
	Phases  []struct {
		ID          string   `yaml:"id"`
		Seq         int      `yaml:"seq"`
		Domain      string   `yaml:"domain"`
		Name        string   `yaml:"name"`
		Roles       []string `yaml:"roles"`
		Transitions []struct {
			To        string `yaml:"to"`
			Condition string `yaml:"condition"`
			Action    string `yaml:"action"`
		} `yaml:"transitions"`
	} `yaml:"phases"`
	ConsensusEdges []struct {
		From string `yaml:"from"`
		To   string `yaml:"to"`
	} `yaml:"consensus_edges"`
	RevisionEdges []struct {
		From string `yaml:"from"`
		Back string `yaml:"back"`
	} `yaml:"revision_edges"`
	BlockerEdges []struct {
		From string `yaml:"from"`
		To   string `yaml:"to"`
	} `yaml:"blocker_edges"`
	HandoffEdges []struct {
		From string `yaml:"from"`
		To   string `yaml:"to"`
	} `yaml:"handoff_edges"`
	Constraints []struct {
		ID        string `yaml:"id"`
		Given     string `yaml:"given"`
		When      string `yaml:"when"`
		Then      string `yaml:"then"`
		ShouldNot string `yaml:"should_not"`
	} `yaml:"constraints"`
}

// Embedded returns the table compiled into the binary. It panics if the
// embedded YAML fails to parse, which can only be a build defect.
func Embedded() *Table {
	t, err := Parse(embeddedTable)
	if err != nil {
		panic(fmt.Sprintf("embedded protocol table: %v", err))
	}
	return t
}

// LoadTable reads an alternate table from a YAML file.
func LoadTable(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, domain.WrapEngineError(domain.ErrTableInvalid.Code, "read protocol table", err)
	}
	return Parse(data)
}

// Parse builds a Table from YAML bytes. Validation is limited to shape
// (parse errors, duplicate identifiers); semantic self-consistency is the
// table producer's concern.
func Parse(data []byte) (*Table, error) {
	var raw yamlTable
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, domain.WrapEngineError(domain.ErrTableInvalid.Code, "parse protocol table", err)
	}

	t := &Table{
		version:     raw.Version,
		axes:        append([]string(nil), raw.Axes...),
		roles:       make(map[domain.RoleID]bool, len(raw.Roles)),
		phases:      make(map[domain.PhaseID]*Phase, len(raw.Phases)),
		constraints: make(map[string]domain.ConstraintSpec, len(raw.Constraints)),
		consensus:   make(map[edge]bool),
		blocker:     make(map[edge]bool),
		handoff:     make(map[edge]bool),
		revision:    make(map[domain.PhaseID]domain.PhaseID),
	}

	for _, r := range raw.Roles {
		id := domain.RoleID(r)
		if t.roles[id] {
			return nil, domain.NewEngineError(domain.ErrTableInvalid.Code, fmt.Sprintf("duplicate role %q", r))
		}
		t.roles[id] = true
		t.roleOrder = append(t.roleOrder, id)
	}

	for _, p := range raw.Phases {
		id := domain.PhaseID(p.ID)
		if _, dup := t.phases[id]; dup {
			return nil, domain.NewEngineError(domain.ErrTableInvalid.Code, fmt.Sprintf("duplicate phase %q", p.ID))
		}
		phase := &Phase{
			ID:     id,
			Seq:    p.Seq,
			Domain: domain.PhaseDomain(p.Domain),
			Name:   p.Name,
		}
		for _, r := range p.Roles {
			phase.Roles = append(phase.Roles, domain.RoleID(r))
		}
		for _, tr := range p.Transitions {
			phase.Transitions = append(phase.Transitions, domain.Transition{
				To:        domain.PhaseID(tr.To),
				Condition: tr.Condition,
				Action:    tr.Action,
			})
		}
		t.phases[id] = phase
		t.phaseOrder = append(t.phaseOrder, id)
	}
	sort.SliceStable(t.phaseOrder, func(i, j int) bool {
		return t.phases[t.phaseOrder[i]].Seq < t.phases[t.phaseOrder[j]].Seq
	})

	for _, e := range raw.ConsensusEdges {
		t.consensus[edge{domain.PhaseID(e.From), domain.PhaseID(e.To)}] = true
	}
	for _, e := range raw.BlockerEdges {
		t.blocker[edge{domain.PhaseID(e.From), domain.PhaseID(e.To)}] = true
	}
	for _, e := range raw.HandoffEdges {
		t.handoff[edge{domain.PhaseID(e.From), domain.PhaseID(e.To)}] = true
	}
	for _, e := range raw.RevisionEdges {
		t.revision[domain.PhaseID(e.From)] = domain.PhaseID(e.Back)
	}

	for _, c := range raw.Constraints {
		if _, dup := t.constraints[c.ID]; dup {
			return nil, domain.NewEngineError(domain.ErrTableInvalid.Code, fmt.Sprintf("duplicate constraint %q", c.ID))
		}
		t.constraints[c.ID] = domain.ConstraintSpec{
			ID:        c.ID,
			Given:     c.Given,
			When:      c.When,
			Then:      c.Then,
			ShouldNot: c.ShouldNot,
		}
	}

	return t, nil
}

// Version reports the table's declared version.
func (t *Table) Version() int { return t.version }

// Axes returns the fixed review axis set in declaration order.
func (t *Table) Axes() []string {
	return append([]string(nil), t.axes...)
}

// IsAxis reports whether the given axis belongs to the fixed set.
func (t *Table) IsAxis(axis string) bool {
	for _, a := range t.axes {
		if a == axis {
			return true
		}
	}
	return false
}

// Roles returns the declared roles in declaration order.
func (t *Table) Roles() []domain.RoleID {
	return append([]domain.RoleID(nil), t.roleOrder...)
}

// IsRole reports whether the given role is declared.
func (t *Table) IsRole(r domain.RoleID) bool { return t.roles[r] }

// Phase returns the catalog entry for a phase id.
func (t *Table) Phase(id domain.PhaseID) (*Phase, bool) {
	p, ok := t.phases[id]
	return p, ok
}

// Phases returns phase ids in sequence order.
func (t *Table) Phases() []domain.PhaseID {
	return append([]domain.PhaseID(nil), t.phaseOrder...)
}

// FirstPhase returns the entry phase of the protocol (lowest sequence number).
func (t *Table) FirstPhase() domain.PhaseID {
	if len(t.phaseOrder) == 0 {
		return domain.PhaseComplete
	}
	return t.phaseOrder[0]
}

// Terminal returns the terminal sentinel id.
func (t *Table) Terminal() domain.PhaseID { return domain.PhaseComplete }

// IsTerminal reports whether the id is the terminal sentinel.
func (t *Table) IsTerminal(id domain.PhaseID) bool { return id == domain.PhaseComplete }

// Transitions returns the ordered outgoing edges of a phase. The terminal
// sentinel has none.
func (t *Table) Transitions(id domain.PhaseID) []domain.Transition {
	p, ok := t.phases[id]
	if !ok {
		return nil
	}
	return append([]domain.Transition(nil), p.Transitions...)
}

// HasEdge reports whether from->to is a table edge.
func (t *Table) HasEdge(from, to domain.PhaseID) bool {
	p, ok := t.phases[from]
	if !ok {
		return false
	}
	for _, tr := range p.Transitions {
		if tr.To == to {
			return true
		}
	}
	return false
}

// IsConsensusEdge reports whether from->to requires full review consensus.
func (t *Table) IsConsensusEdge(from, to domain.PhaseID) bool {
	return t.consensus[edge{from, to}]
}

// IsBlockerEdge reports whether from->to additionally requires a zero
// blocker count.
func (t *Table) IsBlockerEdge(from, to domain.PhaseID) bool {
	return t.blocker[edge{from, to}]
}

// IsHandoffEdge reports whether from->to is actor-changing and requires a
// handoff document.
func (t *Table) IsHandoffEdge(from, to domain.PhaseID) bool {
	return t.handoff[edge{from, to}]
}

// RevisionTarget returns the backward edge target for a review phase, and
// whether the phase is a review phase at all.
func (t *Table) RevisionTarget(from domain.PhaseID) (domain.PhaseID, bool) {
	back, ok := t.revision[from]
	return back, ok
}

// IsReviewPhase reports whether votes are collected at the given phase.
func (t *Table) IsReviewPhase(id domain.PhaseID) bool {
	_, ok := t.revision[id]
	return ok
}

// Constraint looks up a constraint spec by id.
func (t *Table) Constraint(id string) (domain.ConstraintSpec, bool) {
	c, ok := t.constraints[id]
	return c, ok
}

// MustConstraint looks up a constraint spec and panics if the id is absent.
// An unknown rule id is a programmer error, never a runtime condition.
func (t *Table) MustConstraint(id string) domain.ConstraintSpec {
	c, ok := t.constraints[id]
	if !ok {
		panic(fmt.Sprintf("unknown constraint id %q", id))
	}
	return c
}

// ConstraintIDs returns all constraint ids in sorted order.
func (t *Table) ConstraintIDs() []string {
	ids := make([]string, 0, len(t.constraints))
	for id := range t.constraints {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
