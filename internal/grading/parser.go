// Package grading converts the grading collaborator's free-text
// response into validated per-question results and an aggregate score.
package grading

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/pavelanni/classwork/internal/model"
)

// ErrNoStructure means the response blob was empty or contained
// nothing recognizable. The caller treats the submission as ungraded
// pending manual review.
var ErrNoStructure = errors.New("grading response has no recognizable structure")

var (
	totalPattern   = regexp.MustCompile(`(?im)^\s*TOTAL\s*[::]\s*([0-9]+(?:[.,][0-9]+)?)(?:\s*/\s*[0-9]+(?:[.,][0-9]+)?)?\s*$`)
	sectionPattern = regexp.MustCompile(`(?im)^\s*=+\s*QUESTION\s+([0-9]+)\s*=+\s*$`)
	summaryPattern = regexp.MustCompile(`(?im)^\s*=+\s*SUMMARY\s*=+\s*$`)
	fieldPattern   = regexp.MustCompile(`^\s*([A-Za-z][A-Za-z -]*?)\s*[::]\s*(.*)$`)
	scorePattern   = regexp.MustCompile(`([0-9]+(?:[.,][0-9]+)?)\s*/\s*([0-9]+(?:[.,][0-9]+)?)`)
	percentPattern = regexp.MustCompile(`([0-9]+(?:[.,][0-9]+)?)\s*%`)
)

// Defect records a recovered-from deviation in the grading text, so
// "which fields were defaulted" is an explicit output rather than an
// implicit side effect.
type Defect struct {
	Ordinal int    `json:"ordinal"` // 0 for blob-level defects
	Field   string `json:"field"`
	Reason  string `json:"reason"`
}

// Result is the parsed grading response.
type Result struct {
	ReportedTotal *float64             `json:"reported_total,omitempty"`
	PerQuestion   []model.GradedAnswer `json:"per_question"`
	Defects       []Defect             `json:"defects,omitempty"`
}

// Parser extracts structured grading results from raw grader text.
// The zero value is usable; FallbackFeedback overrides the placeholder
// text attached to synthesized results.
type Parser struct {
	FallbackFeedback func(ordinal int) string
}

// Parse walks the expected question ordinals 1..len(questions) and
// extracts each section independently. A malformed or missing section
// degrades to a synthesized zero-credit result, never to an error;
// partial credit is still awarded for every other question. The only
// hard failure is a blob with no recognizable structure at all.
func (p *Parser) Parse(raw string, questions []model.Question) (Result, error) {
	var res Result

	if strings.TrimSpace(raw) == "" {
		return res, ErrNoStructure
	}

	sections := splitSections(raw)

	var reportedTotal *float64
	if m := totalPattern.FindStringSubmatch(raw); m != nil {
		if v, err := parseDecimal(m[1]); err == nil {
			reportedTotal = &v
		}
	}
	if reportedTotal == nil && len(sections) == 0 {
		return res, ErrNoStructure
	}
	res.ReportedTotal = reportedTotal

	for _, q := range questions {
		body, ok := sections[q.Ordinal]
		if !ok {
			res.PerQuestion = append(res.PerQuestion, p.fallbackAnswer(q))
			res.Defects = append(res.Defects, Defect{
				Ordinal: q.Ordinal,
				Field:   "section",
				Reason:  "section missing from grading response",
			})
			continue
		}
		ga, defects := p.parseSection(q, body)
		res.PerQuestion = append(res.PerQuestion, ga)
		res.Defects = append(res.Defects, defects...)
	}

	return res, nil
}

// splitSections maps each question ordinal to its section body: the
// text between its marker and the next marker, the summary marker, or
// end of text. On duplicate ordinals the first section wins.
func splitSections(raw string) map[int]string {
	markers := sectionPattern.FindAllStringSubmatchIndex(raw, -1)
	if len(markers) == 0 {
		return nil
	}

	end := len(raw)
	if m := summaryPattern.FindStringIndex(raw); m != nil && m[0] > markers[0][1] {
		end = m[0]
	}

	sections := make(map[int]string, len(markers))
	for i, m := range markers {
		ordinal, err := strconv.Atoi(raw[m[2]:m[3]])
		if err != nil || ordinal < 1 {
			continue
		}
		bodyEnd := end
		if i+1 < len(markers) && markers[i+1][0] < end {
			bodyEnd = markers[i+1][0]
		}
		if m[1] > bodyEnd {
			continue
		}
		if _, dup := sections[ordinal]; dup {
			continue
		}
		sections[ordinal] = raw[m[1]:bodyEnd]
	}
	return sections
}

// parseSection extracts the labeled fields of one question section.
// Fields appear in any order, each starting on its own line; absence
// of a field degrades it to a default, not the record to a fallback.
func (p *Parser) parseSection(q model.Question, body string) (model.GradedAnswer, []Defect) {
	ga := model.GradedAnswer{
		QuestionID: q.ID,
		Ordinal:    q.Ordinal,
		Label:      model.EvalUnanswered,
		MaxScore:   q.MaxScore,
	}
	var defects []Defect

	defect := func(field, reason string) {
		defects = append(defects, Defect{Ordinal: q.Ordinal, Field: field, Reason: reason})
	}

	var scoreSeen, percentSeen, labelSeen bool
	current := "" // open multi-line text field
	appendCurrent := func(line string) {
		text := strings.TrimSpace(line)
		if text == "" {
			return
		}
		switch current {
		case "standard_answer":
			ga.StandardAnswer = joinLines(ga.StandardAnswer, text)
		case "feedback":
			ga.Feedback = joinLines(ga.Feedback, text)
		case "suggestion":
			ga.Suggestion = joinLines(ga.Suggestion, text)
		}
	}

	for _, line := range strings.Split(body, "\n") {
		m := fieldPattern.FindStringSubmatch(line)
		if m == nil {
			appendCurrent(line)
			continue
		}
		label := normalizeLabel(m[1])
		value := strings.TrimSpace(m[2])

		switch label {
		case "standard answer", "correct answer", "model answer":
			ga.StandardAnswer = value
			current = "standard_answer"
		case "evaluation", "assessment", "verdict":
			ga.Label = classifyLabel(value)
			labelSeen = true
			current = ""
		case "score", "points":
			sm := scorePattern.FindStringSubmatch(value)
			if sm == nil {
				defect("score", fmt.Sprintf("unparseable score %q", value))
				current = ""
				continue
			}
			score, err1 := parseDecimal(sm[1])
			maxScore, err2 := parseDecimal(sm[2])
			if err1 != nil || err2 != nil {
				defect("score", fmt.Sprintf("unparseable score %q", value))
				current = ""
				continue
			}
			ga.Score = score
			if maxScore > 0 {
				ga.MaxScore = maxScore
			}
			scoreSeen = true
			current = ""
		case "percentage", "percent":
			pm := percentPattern.FindStringSubmatch(value)
			if pm == nil {
				defect("percentage", fmt.Sprintf("unparseable percentage %q", value))
				current = ""
				continue
			}
			if v, err := parseDecimal(pm[1]); err == nil {
				ga.Percentage = v
				percentSeen = true
			}
			current = ""
		case "feedback", "comment", "comments":
			ga.Feedback = value
			current = "feedback"
		case "suggestion", "suggestions", "advice":
			ga.Suggestion = value
			current = "suggestion"
		default:
			// Unrecognized label: treat the whole line as continuation
			// text rather than losing it.
			appendCurrent(line)
		}
	}

	if !scoreSeen {
		defect("score", "score missing, defaulted to 0")
	}
	if !labelSeen {
		defect("evaluation", "evaluation label missing, defaulted to unanswered")
	}
	if !percentSeen && scoreSeen && ga.MaxScore > 0 {
		ga.Percentage = ga.Score / ga.MaxScore * 100
	}

	return ga, defects
}

// fallbackAnswer synthesizes a zero-credit result for a question whose
// section the grader omitted.
func (p *Parser) fallbackAnswer(q model.Question) model.GradedAnswer {
	feedback := fmt.Sprintf("Question %d was not graded automatically.", q.Ordinal)
	if p.FallbackFeedback != nil {
		feedback = p.FallbackFeedback(q.Ordinal)
	}
	return model.GradedAnswer{
		QuestionID: q.ID,
		Ordinal:    q.Ordinal,
		Label:      model.EvalUnanswered,
		Score:      0,
		MaxScore:   q.MaxScore,
		Feedback:   feedback,
		Fallback:   true,
	}
}

// classifyLabel maps free-text evaluation wording onto the closed
// label set by substring match. Order matters: "partially correct"
// must be tried before "fully correct" wording, and "incorrect"
// before bare "correct" variants would be.
func classifyLabel(text string) model.EvalLabel {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "partially correct"):
		return model.EvalPartiallyCorrect
	case strings.Contains(lower, "fully correct"):
		return model.EvalFullyCorrect
	case strings.Contains(lower, "incorrect"):
		return model.EvalIncorrect
	case strings.Contains(lower, "unanswered"):
		return model.EvalUnanswered
	default:
		return model.EvalUnanswered
	}
}

// parseDecimal parses a decimal accepting both '.' and ',' separators.
func parseDecimal(s string) (float64, error) {
	return strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(s), ",", "."), 64)
}

func normalizeLabel(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.ReplaceAll(s, "-", " "))), " ")
}

func joinLines(existing, next string) string {
	if existing == "" {
		return next
	}
	return existing + "\n" + next
}
