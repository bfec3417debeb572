package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Stage names the engine interprets. Other stage names are carried through
// untouched.
const (
	StageWelcome                 = "WELCOME"
	StageValueDelivery           = "VALUE_DELIVERY"
	StageExperienceQualification = "EXPERIENCE_QUALIFICATION"
	StageTransition              = "TRANSITION"
	StageOffer                   = "OFFER"
)

// Option is one selectable reply on a block. A nil NextBlockID ends the
// conversation at this turn.
type Option struct {
	Text        string  `json:"text" yaml:"text"`
	NextBlockID *string `json:"nextBlockId" yaml:"nextBlockId"`
}

// Block is one chat turn.
type Block struct {
	ID           string   `json:"id" yaml:"id"`
	Message      string   `json:"message" yaml:"message"`
	ResourceName *string  `json:"resourceName,omitempty" yaml:"resourceName,omitempty"`
	Options      []Option `json:"options" yaml:"options"`
}

// Stage groups blocks into a named phase.
type Stage struct {
	ID          string   `json:"id" yaml:"id"`
	Name        string   `json:"name" yaml:"name"`
	Explanation string   `json:"explanation,omitempty" yaml:"explanation,omitempty"`
	BlockIDs    []string `json:"blockIds" yaml:"blockIds"`
}

// Flow is the typed funnel graph. It is immutable once parsed.
type Flow struct {
	StartBlockID string           `json:"startBlockId" yaml:"startBlockId"`
	Stages       []Stage          `json:"stages" yaml:"stages"`
	Blocks       map[string]Block `json:"blocks" yaml:"blocks"`

	stageByBlock map[string]int
}

// FlowError lists every structural problem found in a flow document.
type FlowError struct {
	Issues []string
}

func (e *FlowError) Error() string {
	return "invalid funnel flow: " + strings.Join(e.Issues, "; ")
}

// ParseFlow decodes a stored JSON flow document and validates it.
func ParseFlow(raw []byte) (*Flow, error) {
	var f Flow
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, &FlowError{Issues: []string{"decode json: " + err.Error()}}
	}
	if err := f.init(); err != nil {
		return nil, err
	}
	return &f, nil
}

// ParseFlowYAML decodes an authored YAML flow document and validates it.
func ParseFlowYAML(raw []byte) (*Flow, error) {
	var f Flow
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, &FlowError{Issues: []string{"decode yaml: " + err.Error()}}
	}
	if err := f.init(); err != nil {
		return nil, err
	}
	return &f, nil
}

func (f *Flow) init() error {
	for id, b := range f.Blocks {
		if b.ID == "" {
			b.ID = id
			f.Blocks[id] = b
		}
	}
	if err := f.Validate(); err != nil {
		return err
	}
	f.stageByBlock = make(map[string]int)
	for i, s := range f.Stages {
		for _, id := range s.BlockIDs {
			if _, seen := f.stageByBlock[id]; !seen {
				f.stageByBlock[id] = i
			}
		}
	}
	return nil
}

// Validate checks the structural invariants: the start block exists, every
// option target exists or is nil, and every stage references known blocks.
// Cycles are allowed.
func (f *Flow) Validate() error {
	var issues []string

	if strings.TrimSpace(f.StartBlockID) == "" {
		issues = append(issues, "startBlockId is empty")
	} else if _, ok := f.Blocks[f.StartBlockID]; !ok {
		issues = append(issues, fmt.Sprintf("startBlockId %q not found in blocks", f.StartBlockID))
	}

	ids := make([]string, 0, len(f.Blocks))
	for id := range f.Blocks {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		b := f.Blocks[id]
		if b.ID != id {
			issues = append(issues, fmt.Sprintf("block key %q does not match id %q", id, b.ID))
		}
		for i, opt := range b.Options {
			if opt.NextBlockID == nil {
				continue
			}
			if _, ok := f.Blocks[*opt.NextBlockID]; !ok {
				issues = append(issues, fmt.Sprintf("block %q option %d targets unknown block %q", id, i, *opt.NextBlockID))
			}
		}
	}

	for _, s := range f.Stages {
		for _, id := range s.BlockIDs {
			if _, ok := f.Blocks[id]; !ok {
				issues = append(issues, fmt.Sprintf("stage %q references unknown block %q", s.Name, id))
			}
		}
	}

	if len(issues) > 0 {
		return &FlowError{Issues: issues}
	}
	return nil
}

// Block returns the block with the given ID.
func (f *Flow) Block(id string) (Block, bool) {
	b, ok := f.Blocks[id]
	return b, ok
}

// StartBlock returns the entry block.
func (f *Flow) StartBlock() (Block, bool) {
	return f.Block(f.StartBlockID)
}

// StageOf returns the first stage listing blockID.
func (f *Flow) StageOf(blockID string) (Stage, bool) {
	if f.stageByBlock == nil {
		for _, s := range f.Stages {
			for _, id := range s.BlockIDs {
				if id == blockID {
					return s, true
				}
			}
		}
		return Stage{}, false
	}
	i, ok := f.stageByBlock[blockID]
	if !ok {
		return Stage{}, false
	}
	return f.Stages[i], true
}

// InStage reports whether blockID belongs to the named stage.
func (f *Flow) InStage(blockID, stageName string) bool {
	s, ok := f.StageOf(blockID)
	return ok && s.Name == stageName
}

// FirstBlockOfStage returns the first block of the named stage. ok is false
// when the stage is absent, empty, or its first block is missing.
func (f *Flow) FirstBlockOfStage(stageName string) (Block, bool) {
	for _, s := range f.Stages {
		if s.Name != stageName {
			continue
		}
		if len(s.BlockIDs) == 0 {
			return Block{}, false
		}
		return f.Block(s.BlockIDs[0])
	}
	return Block{}, false
}

// MatchOption finds the option whose text equals reply exactly.
func (b Block) MatchOption(reply string) (Option, bool) {
	for _, opt := range b.Options {
		if opt.Text == reply {
			return opt, true
		}
	}
	return Option{}, false
}

// IsTerminal reports whether the block offers no way forward.
func (b Block) IsTerminal() bool {
	return len(b.Options) == 0
}

// RenderNumberedOptions returns the block message with its options listed
// inline as "1. text" lines.
func RenderNumberedOptions(b Block) string {
	if len(b.Options) == 0 {
		return b.Message
	}
	var sb strings.Builder
	sb.WriteString(b.Message)
	sb.WriteString("\n")
	for i, opt := range b.Options {
		sb.WriteString("\n")
		sb.WriteString(strconv.Itoa(i + 1))
		sb.WriteString(". ")
		sb.WriteString(opt.Text)
	}
	return sb.String()
}
