package domain

import (
	"errors"
	"strings"
	"testing"
)

const sampleFlowJSON = `{
  "startBlockId": "welcome_1",
  "stages": [
    {"id": "s1", "name": "WELCOME", "blockIds": ["welcome_1"]},
    {"id": "s2", "name": "EXPERIENCE_QUALIFICATION", "blockIds": ["qual_1"]},
    {"id": "s3", "name": "TRANSITION", "blockIds": ["handoff"]}
  ],
  "blocks": {
    "welcome_1": {"id": "welcome_1", "message": "Hi there", "options": [
      {"text": "Beginner", "nextBlockId": "qual_1"},
      {"text": "Not now", "nextBlockId": null}
    ]},
    "qual_1": {"id": "qual_1", "message": "What do you want?", "options": [
      {"text": "Grow", "nextBlockId": "handoff"}
    ]},
    "handoff": {"id": "handoff", "message": "Let's talk privately", "options": []}
  }
}`

func TestParseFlowValid(t *testing.T) {
	flow, err := ParseFlow([]byte(sampleFlowJSON))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if flow.StartBlockID != "welcome_1" {
		t.Fatalf("expected start welcome_1, got %s", flow.StartBlockID)
	}
	if !flow.InStage("handoff", StageTransition) {
		t.Fatal("expected handoff block in TRANSITION stage")
	}
	first, ok := flow.FirstBlockOfStage(StageExperienceQualification)
	if !ok || first.ID != "qual_1" {
		t.Fatalf("expected qual_1 as first qualification block, got %q (ok=%v)", first.ID, ok)
	}
	if _, ok := flow.FirstBlockOfStage("MISSING"); ok {
		t.Fatal("absent stage should not yield a block")
	}
}

func TestParseFlowRejectsBrokenGraphs(t *testing.T) {
	cases := []struct {
		name  string
		doc   string
		issue string
	}{
		{
			name:  "missing start block",
			doc:   `{"startBlockId": "nope", "stages": [], "blocks": {"a": {"id": "a", "message": "x", "options": []}}}`,
			issue: "startBlockId",
		},
		{
			name:  "empty start block",
			doc:   `{"startBlockId": "", "stages": [], "blocks": {}}`,
			issue: "startBlockId is empty",
		},
		{
			name:  "dangling option target",
			doc:   `{"startBlockId": "a", "stages": [], "blocks": {"a": {"id": "a", "message": "x", "options": [{"text": "go", "nextBlockId": "ghost"}]}}}`,
			issue: "unknown block \"ghost\"",
		},
		{
			name:  "stage references unknown block",
			doc:   `{"startBlockId": "a", "stages": [{"id": "s", "name": "WELCOME", "blockIds": ["zzz"]}], "blocks": {"a": {"id": "a", "message": "x", "options": []}}}`,
			issue: "references unknown block",
		},
		{
			name:  "malformed json",
			doc:   `{"startBlockId": `,
			issue: "decode json",
		},
	}

	for _, tc := range cases {
		_, err := ParseFlow([]byte(tc.doc))
		if err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
		var flowErr *FlowError
		if !errors.As(err, &flowErr) {
			t.Fatalf("%s: expected *FlowError, got %T", tc.name, err)
		}
		if !strings.Contains(err.Error(), tc.issue) {
			t.Fatalf("%s: expected issue containing %q, got %q", tc.name, tc.issue, err.Error())
		}
	}
}

func TestParseFlowAllowsCycles(t *testing.T) {
	doc := `{"startBlockId": "a", "stages": [], "blocks": {
		"a": {"id": "a", "message": "A", "options": [{"text": "to b", "nextBlockId": "b"}]},
		"b": {"id": "b", "message": "B", "options": [{"text": "to a", "nextBlockId": "a"}]}
	}}`
	if _, err := ParseFlow([]byte(doc)); err != nil {
		t.Fatalf("cycles must be accepted, got %v", err)
	}
}

func TestParseFlowYAML(t *testing.T) {
	doc := `
startBlockId: start
stages:
  - id: s1
    name: WELCOME
    blockIds: [start]
blocks:
  start:
    message: Welcome!
    options:
      - text: Continue
        nextBlockId: end
      - text: Stop
        nextBlockId: null
  end:
    message: Bye
    options: []
`
	flow, err := ParseFlowYAML([]byte(doc))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	start, _ := flow.StartBlock()
	if start.ID != "start" {
		t.Fatalf("block id should default to its key, got %q", start.ID)
	}
	stop, ok := start.MatchOption("Stop")
	if !ok || stop.NextBlockID != nil {
		t.Fatal("expected Stop option with nil next block")
	}
}

func TestMatchOptionIsExact(t *testing.T) {
	flow, err := ParseFlow([]byte(sampleFlowJSON))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	start, _ := flow.StartBlock()
	if _, ok := start.MatchOption("beginner"); ok {
		t.Fatal("option matching must be exact")
	}
	if _, ok := start.MatchOption("Beginner"); !ok {
		t.Fatal("exact text should match")
	}
}

func TestRenderNumberedOptions(t *testing.T) {
	next := "b"
	block := Block{
		ID:      "a",
		Message: "Pick one:",
		Options: []Option{{Text: "Alpha", NextBlockID: &next}, {Text: "Beta"}},
	}
	got := RenderNumberedOptions(block)
	want := "Pick one:\n\n1. Alpha\n2. Beta"
	if got != want {
		t.Fatalf("unexpected rendering:\n%q\nwant\n%q", got, want)
	}

	if got := RenderNumberedOptions(Block{Message: "Done"}); got != "Done" {
		t.Fatalf("block without options should render message only, got %q", got)
	}
}
