package prompt

import (
	"strings"
	"testing"
)

func TestBuild_ContainsQuestionAndPassages(t *testing.T) {
	b := NewBuilder(1000)

	p := b.Build("What is the grace period?", []Passage{
		{Text: "A grace period of thirty days is provided.", Section: "# Policy > ## Grace Period"},
		{Text: "Premiums are due on the first of the month."},
	})

	if !strings.Contains(p, "What is the grace period?") {
		t.Error("prompt missing the question")
	}
	if !strings.Contains(p, "[1] (# Policy > ## Grace Period) A grace period of thirty days is provided.") {
		t.Errorf("prompt missing labelled top passage:\n%s", p)
	}
	if !strings.Contains(p, "[2] Premiums are due on the first of the month.") {
		t.Errorf("prompt missing second passage:\n%s", p)
	}
	if !strings.HasSuffix(p, "Answer:") {
		t.Error("prompt must end with the answer cue")
	}
}

func TestBuild_RankOrderPreserved(t *testing.T) {
	b := NewBuilder(1000)

	p := b.Build("q", []Passage{
		{Text: "first ranked"},
		{Text: "second ranked"},
		{Text: "third ranked"},
	})

	i1 := strings.Index(p, "first ranked")
	i2 := strings.Index(p, "second ranked")
	i3 := strings.Index(p, "third ranked")
	if !(i1 < i2 && i2 < i3) {
		t.Errorf("passages out of rank order at %d/%d/%d", i1, i2, i3)
	}
}

func TestBuild_BudgetDropsLowestRanked(t *testing.T) {
	b := NewBuilder(25)

	p := b.Build("q", []Passage{
		{Text: strings.Repeat("a", 20)},
		{Text: strings.Repeat("b", 20)},
	})

	if !strings.Contains(p, strings.Repeat("a", 20)) {
		t.Error("top passage must stay")
	}
	if strings.Contains(p, strings.Repeat("b", 20)) {
		t.Error("over-budget passage must be dropped whole")
	}
}

func TestBuild_OversizedTopPassageDroppedWhole(t *testing.T) {
	b := NewBuilder(10)

	p := b.Build("q", []Passage{
		{Text: strings.Repeat("x", 50)},
	})

	if strings.Contains(p, "x") {
		t.Error("passages are kept or dropped whole, never cut")
	}
	if !strings.Contains(p, "Context:") {
		t.Error("prompt missing the context section")
	}
	if !strings.Contains(p, "Question: q") {
		t.Error("prompt missing the question")
	}
}

func TestBuild_NoPassages(t *testing.T) {
	b := NewBuilder(1000)

	p := b.Build("What is covered?", nil)

	if !strings.Contains(p, "What is covered?") {
		t.Error("prompt missing the question")
	}
	if !strings.Contains(p, "Context:") {
		t.Error("prompt missing the context section")
	}
}

func TestBuildDecision_AsksForJSON(t *testing.T) {
	b := NewBuilder(1000)

	p := b.BuildDecision("46M, knee surgery, 3-month policy", []Passage{
		{Text: "Surgical procedures are covered after a 90 day waiting period."},
	})

	if !strings.Contains(p, "46M, knee surgery, 3-month policy") {
		t.Error("prompt missing the claim")
	}
	if !strings.Contains(p, `"decision"`) {
		t.Error("prompt missing the JSON schema")
	}
	if !strings.HasSuffix(p, "Decision (JSON):") {
		t.Error("prompt must end with the decision cue")
	}
}
