// Package semantics is the single place where status codes acquire workflow
// meaning. It is a pure lookup over (status id, task type); storage never
// interprets status text.
package semantics

import (
	"grantline/internal/config"
	"grantline/internal/domain"
)

// Fact is what a status means for workflow. Successful is tri-state:
// nil means not yet knowable.
type Fact struct {
	Actionable    bool   `json:"actionable"`
	NeedsFollowUp bool   `json:"needs_follow_up"`
	Successful    *bool  `json:"successful,omitempty"`
	Terminal      bool   `json:"terminal"`
	Description   string `json:"description,omitempty"`
}

type key struct {
	statusID int64
	taskType domain.TaskType
}

// Interpreter holds the rule table. The zero value is usable and answers
// everything with the conservative default.
type Interpreter struct {
	rules map[key]Fact
}

// Interpret returns the workflow facts for a status on a task type. An
// unmapped pair degrades to the conservative default rather than failing:
// unseen statuses must land in actionable views, not drop out of them.
func (i *Interpreter) Interpret(statusID int64, taskType domain.TaskType) Fact {
	if i != nil && i.rules != nil {
		if f, ok := i.rules[key{statusID, taskType}]; ok {
			return f
		}
	}
	return Fact{
		Actionable:    true,
		NeedsFollowUp: true,
		Successful:    nil,
		Description:   "unmapped status, needs review",
	}
}

// Apply overlays config rules onto the table. Later rules win.
func (i *Interpreter) Apply(rules []config.SemanticsRule) {
	if i.rules == nil {
		i.rules = make(map[key]Fact)
	}
	for _, r := range rules {
		t, ok := domain.ParseTaskType(r.TaskType)
		if !ok {
			continue // config.Validate already rejects these
		}
		i.rules[key{r.StatusID, t}] = Fact{
			Actionable:    r.Actionable,
			NeedsFollowUp: r.NeedsFollowUp,
			Successful:    r.Successful,
			Terminal:      r.Terminal,
			Description:   r.Description,
		}
	}
}

// New builds an interpreter from the built-in table plus config overrides.
func New(cfg *config.Config) *Interpreter {
	i := Default()
	if cfg != nil {
		i.Apply(cfg.Semantics.Rules)
	}
	return i
}

func yes() *bool { v := true; return &v }
func no() *bool  { v := false; return &v }

// Default returns the built-in rule table. Status ids follow the registry's
// first-sighting order over the numbered writing-schedule vocabulary
// ("1. Awarded" .. "11. Ineligible"); deployments whose registry grew in a
// different order override pairs via grantline.yml.
func Default() *Interpreter {
	i := &Interpreter{rules: make(map[key]Fact)}

	// LOI. "Awarded" on an LOI means invited to submit a full proposal.
	i.rules[key{1, domain.TypeLOI}] = Fact{Actionable: true, NeedsFollowUp: true, Successful: yes(), Description: "invited to submit full proposal"}
	i.rules[key{3, domain.TypeLOI}] = Fact{Actionable: false, NeedsFollowUp: false, Description: "waiting for invitation decision"}
	i.rules[key{4, domain.TypeLOI}] = Fact{Actionable: true, NeedsFollowUp: false, Description: "actively drafting"}
	i.rules[key{5, domain.TypeLOI}] = Fact{Actionable: true, NeedsFollowUp: false, Description: "planned for future submission"}
	i.rules[key{6, domain.TypeLOI}] = Fact{Actionable: true, NeedsFollowUp: false, Description: "researching opportunity"}
	i.rules[key{8, domain.TypeLOI}] = Fact{Actionable: false, NeedsFollowUp: false, Successful: no(), Terminal: true, Description: "not invited to apply"}
	i.rules[key{10, domain.TypeLOI}] = Fact{Actionable: false, NeedsFollowUp: false, Terminal: true, Description: "will not apply"}
	i.rules[key{11, domain.TypeLOI}] = Fact{Actionable: false, NeedsFollowUp: false, Terminal: true, Description: "cannot apply"}

	// Proposal.
	i.rules[key{1, domain.TypeProposal}] = Fact{Actionable: true, NeedsFollowUp: true, Successful: yes(), Description: "grant awarded, schedule reports"}
	i.rules[key{2, domain.TypeProposal}] = Fact{Actionable: false, NeedsFollowUp: false, Description: "waiting for funding decision"}
	i.rules[key{4, domain.TypeProposal}] = Fact{Actionable: true, NeedsFollowUp: false, Description: "actively drafting"}
	i.rules[key{5, domain.TypeProposal}] = Fact{Actionable: true, NeedsFollowUp: false, Description: "planned for future submission"}
	i.rules[key{7, domain.TypeProposal}] = Fact{Actionable: false, NeedsFollowUp: false, Successful: yes(), Terminal: true, Description: "grant complete and closed"}
	i.rules[key{8, domain.TypeProposal}] = Fact{Actionable: true, NeedsFollowUp: true, Successful: no(), Terminal: true, Description: "denied, consider feedback"}
	i.rules[key{9, domain.TypeProposal}] = Fact{Actionable: false, NeedsFollowUp: true, Description: "on hold, monitor for updates"}

	// Report. Either being drafted or submitted; no money at stake.
	i.rules[key{4, domain.TypeReport}] = Fact{Actionable: true, NeedsFollowUp: false, Description: "drafting report"}
	i.rules[key{5, domain.TypeReport}] = Fact{Actionable: false, NeedsFollowUp: false, Description: "planned for future period"}
	i.rules[key{7, domain.TypeReport}] = Fact{Actionable: false, NeedsFollowUp: false, Successful: yes(), Terminal: true, Description: "report submitted"}

	return i
}
