package grading

import (
	"errors"
	"strings"
	"testing"

	"github.com/pavelanni/classwork/internal/model"
)

func testQuestions(n int) []model.Question {
	qs := make([]model.Question, n)
	for i := range qs {
		qs[i] = model.Question{ID: int64(100 + i), Ordinal: i + 1, MaxScore: 5}
	}
	return qs
}

const wellFormed = `TOTAL: 7/10

=== QUESTION 1 ===
STANDARD ANSWER: The mitochondria is the powerhouse of the cell.
EVALUATION: fully correct
SCORE: 4/5
PERCENTAGE: 80%
FEEDBACK: Complete and accurate.
SUGGESTION: Mention ATP synthesis next time.

=== QUESTION 2 ===
STANDARD ANSWER: Photosynthesis converts light into chemical energy.
EVALUATION: partially correct
SCORE: 3/5
PERCENTAGE: 60%
FEEDBACK: Missing the role of chlorophyll.
SUGGESTION: Review chapter 4.
`

func TestParseWellFormed(t *testing.T) {
	p := &Parser{}
	res, err := p.Parse(wellFormed, testQuestions(2))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if res.ReportedTotal == nil || *res.ReportedTotal != 7 {
		t.Errorf("expected reported total 7, got %v", res.ReportedTotal)
	}
	if len(res.PerQuestion) != 2 {
		t.Fatalf("expected 2 graded answers, got %d", len(res.PerQuestion))
	}
	if len(res.Defects) != 0 {
		t.Errorf("expected no defects, got %v", res.Defects)
	}

	first := res.PerQuestion[0]
	if first.Ordinal != 1 || first.QuestionID != 100 {
		t.Errorf("unexpected identity %+v", first)
	}
	if first.Label != model.EvalFullyCorrect {
		t.Errorf("expected fully correct, got %q", first.Label)
	}
	if first.Score != 4 || first.MaxScore != 5 {
		t.Errorf("expected 4/5, got %g/%g", first.Score, first.MaxScore)
	}
	if first.Percentage != 80 {
		t.Errorf("expected 80%%, got %g", first.Percentage)
	}
	if first.StandardAnswer != "The mitochondria is the powerhouse of the cell." {
		t.Errorf("unexpected standard answer %q", first.StandardAnswer)
	}
	if first.Fallback {
		t.Error("expected no fallback for a parsed section")
	}

	second := res.PerQuestion[1]
	if second.Label != model.EvalPartiallyCorrect || second.Score != 3 {
		t.Errorf("unexpected second answer %+v", second)
	}
}

func TestParseMissingSectionSynthesizesFallback(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("TOTAL: 8/10\n")
	for _, n := range []int{1, 2, 4, 5} { // section 3 omitted by the grader
		sb.WriteString("\n=== QUESTION ")
		sb.WriteString(string(rune('0' + n)))
		sb.WriteString(" ===\nEVALUATION: fully correct\nSCORE: 2/5\nFEEDBACK: ok\n")
	}

	p := &Parser{FallbackFeedback: func(ordinal int) string { return "pending review" }}
	res, err := p.Parse(sb.String(), testQuestions(5))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if len(res.PerQuestion) != 5 {
		t.Fatalf("expected 5 graded answers, got %d", len(res.PerQuestion))
	}
	for i, ga := range res.PerQuestion {
		if ga.Ordinal != i+1 {
			t.Errorf("answer %d out of order: ordinal %d", i, ga.Ordinal)
		}
	}

	third := res.PerQuestion[2]
	if !third.Fallback {
		t.Error("expected fallback for missing section 3")
	}
	if third.Score != 0 || third.Label != model.EvalUnanswered {
		t.Errorf("expected zero-credit unanswered fallback, got %+v", third)
	}
	if third.Feedback != "pending review" {
		t.Errorf("expected localized placeholder, got %q", third.Feedback)
	}

	// The other four parse normally.
	for _, i := range []int{0, 1, 3, 4} {
		if res.PerQuestion[i].Fallback {
			t.Errorf("section %d unexpectedly fell back", i+1)
		}
		if res.PerQuestion[i].Score != 2 {
			t.Errorf("section %d: expected score 2, got %g", i+1, res.PerQuestion[i].Score)
		}
	}

	var sectionDefects int
	for _, d := range res.Defects {
		if d.Field == "section" && d.Ordinal == 3 {
			sectionDefects++
		}
	}
	if sectionDefects != 1 {
		t.Errorf("expected one section defect for ordinal 3, got %v", res.Defects)
	}
}

func TestParseFieldAbsenceDegradesToDefaults(t *testing.T) {
	raw := `=== QUESTION 1 ===
FEEDBACK: Did not address the question.
`
	p := &Parser{}
	res, err := p.Parse(raw, testQuestions(1))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	ga := res.PerQuestion[0]
	if ga.Fallback {
		t.Error("a present section with missing fields is not a fallback")
	}
	if ga.Score != 0 {
		t.Errorf("expected default score 0, got %g", ga.Score)
	}
	if ga.Label != model.EvalUnanswered {
		t.Errorf("expected default label unanswered, got %q", ga.Label)
	}
	if ga.MaxScore != 5 {
		t.Errorf("expected question max score 5, got %g", ga.MaxScore)
	}
	if ga.Feedback != "Did not address the question." {
		t.Errorf("unexpected feedback %q", ga.Feedback)
	}

	fields := map[string]bool{}
	for _, d := range res.Defects {
		fields[d.Field] = true
	}
	if !fields["score"] || !fields["evaluation"] {
		t.Errorf("expected score and evaluation defects, got %v", res.Defects)
	}
}

func TestParseLocaleDecimals(t *testing.T) {
	raw := `TOTAL: 7,5/10

=== QUESTION 1 ===
EVALUATION: partially correct
SCORE: 3,5/5
PERCENTAGE: 70,0%
`
	p := &Parser{}
	res, err := p.Parse(raw, testQuestions(1))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if res.ReportedTotal == nil || *res.ReportedTotal != 7.5 {
		t.Errorf("expected reported total 7.5, got %v", res.ReportedTotal)
	}
	ga := res.PerQuestion[0]
	if ga.Score != 3.5 {
		t.Errorf("expected score 3.5, got %g", ga.Score)
	}
	if ga.Percentage != 70 {
		t.Errorf("expected 70%%, got %g", ga.Percentage)
	}
}

func TestParsePercentageDerivedFromScore(t *testing.T) {
	raw := `=== QUESTION 1 ===
EVALUATION: partially correct
SCORE: 2/5
`
	p := &Parser{}
	res, err := p.Parse(raw, testQuestions(1))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := res.PerQuestion[0].Percentage; got != 40 {
		t.Errorf("expected derived 40%%, got %g", got)
	}
}

func TestParseFieldsInAnyOrder(t *testing.T) {
	raw := `=== QUESTION 1 ===
SUGGESTION: Re-read the passage.
SCORE: 5/5
FEEDBACK: Perfect.
EVALUATION: Fully Correct
STANDARD ANSWER: Paris.
`
	p := &Parser{}
	res, err := p.Parse(raw, testQuestions(1))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	ga := res.PerQuestion[0]
	if ga.Label != model.EvalFullyCorrect || ga.Score != 5 || ga.StandardAnswer != "Paris." {
		t.Errorf("field order should not matter, got %+v", ga)
	}
}

func TestParseMultilineFeedback(t *testing.T) {
	raw := `=== QUESTION 1 ===
SCORE: 1/5
FEEDBACK: The argument is circular.
It assumes the conclusion in the first premise.
EVALUATION: incorrect
`
	p := &Parser{}
	res, err := p.Parse(raw, testQuestions(1))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	ga := res.PerQuestion[0]
	if !strings.Contains(ga.Feedback, "circular") || !strings.Contains(ga.Feedback, "first premise") {
		t.Errorf("expected continuation lines folded into feedback, got %q", ga.Feedback)
	}
	if ga.Label != model.EvalIncorrect {
		t.Errorf("expected incorrect, got %q", ga.Label)
	}
}

func TestParseNoStructure(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"whitespace", "   \n\t  "},
		{"prose only", "I am sorry, I cannot grade this submission."},
	}

	p := &Parser{}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Parse(tt.raw, testQuestions(2))
			if !errors.Is(err, ErrNoStructure) {
				t.Errorf("expected ErrNoStructure, got %v", err)
			}
		})
	}
}

func TestParseTotalOnly(t *testing.T) {
	// A total line alone is recognizable structure; every question
	// degrades to a fallback but the pipeline does not fail.
	p := &Parser{}
	res, err := p.Parse("TOTAL: 6/10", testQuestions(2))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if res.ReportedTotal == nil || *res.ReportedTotal != 6 {
		t.Errorf("expected reported total 6, got %v", res.ReportedTotal)
	}
	for _, ga := range res.PerQuestion {
		if !ga.Fallback {
			t.Errorf("expected fallback for ordinal %d", ga.Ordinal)
		}
	}
}

func TestParseDuplicateSectionFirstWins(t *testing.T) {
	raw := `=== QUESTION 1 ===
SCORE: 4/5
EVALUATION: fully correct

=== QUESTION 1 ===
SCORE: 0/5
EVALUATION: incorrect
`
	p := &Parser{}
	res, err := p.Parse(raw, testQuestions(1))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if res.PerQuestion[0].Score != 4 {
		t.Errorf("expected first section to win, got score %g", res.PerQuestion[0].Score)
	}
}

func TestClassifyLabel(t *testing.T) {
	tests := []struct {
		text string
		want model.EvalLabel
	}{
		{"fully correct", model.EvalFullyCorrect},
		{"The answer is Fully Correct.", model.EvalFullyCorrect},
		{"partially correct", model.EvalPartiallyCorrect},
		{"only partially correct, missing detail", model.EvalPartiallyCorrect},
		{"incorrect", model.EvalIncorrect},
		{"This is incorrect I'm afraid", model.EvalIncorrect},
		{"unanswered", model.EvalUnanswered},
		{"excellent work", model.EvalUnanswered}, // outside the vocabulary
		{"", model.EvalUnanswered},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			if got := classifyLabel(tt.text); got != tt.want {
				t.Errorf("classifyLabel(%q) = %q, want %q", tt.text, got, tt.want)
			}
		})
	}
}

func TestParseDecimal(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"7", 7},
		{"7.5", 7.5},
		{"7,5", 7.5},
		{" 3,25 ", 3.25},
	}
	for _, tt := range tests {
		got, err := parseDecimal(tt.in)
		if err != nil {
			t.Errorf("parseDecimal(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("parseDecimal(%q) = %g, want %g", tt.in, got, tt.want)
		}
	}
	if _, err := parseDecimal("abc"); err == nil {
		t.Error("expected error for non-numeric input")
	}
}
