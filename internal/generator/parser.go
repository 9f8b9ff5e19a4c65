package generator

import (
	"encoding/json"
	"fmt"
	"strings"
)

type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s", strings.Join(e.Errors, "; "))
}

func ParseResponse(responseBody string) (*GeneratedQuestion, error) {
	cleaned := stripCodeFences(responseBody)

	var q GeneratedQuestion
	if err := json.Unmarshal([]byte(cleaned), &q); err != nil {
		return nil, fmt.Errorf("failed to parse JSON response: %w", err)
	}

	if err := validateQuestion(&q); err != nil {
		return nil, err
	}

	return &q, nil
}

func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```json") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimSpace(s)
	} else if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSpace(s)
	}
	if strings.HasSuffix(s, "```") {
		s = strings.TrimSuffix(s, "```")
		s = strings.TrimSpace(s)
	}
	return s
}

var validAssessmentTypes = map[string]bool{
	"recall":      true,
	"application": true,
	"analysis":    true,
	"synthesis":   true,
}

func validateQuestion(q *GeneratedQuestion) error {
	var errs []string

	textLen := len(q.Text)
	if textLen < 40 {
		errs = append(errs, fmt.Sprintf("question text length %d below minimum 40", textLen))
	}
	if textLen > 2000 {
		errs = append(errs, fmt.Sprintf("question text length %d above maximum 2000", textLen))
	}

	if len(q.ExpectedCriteria) < 2 {
		errs = append(errs, fmt.Sprintf("expected %d+ scoring criteria, got %d", 2, len(q.ExpectedCriteria)))
	}
	for i, c := range q.ExpectedCriteria {
		if strings.TrimSpace(c) == "" {
			errs = append(errs, fmt.Sprintf("criterion %d is empty", i+1))
		}
	}

	if !validAssessmentTypes[q.AssessmentType] {
		errs = append(errs, fmt.Sprintf("invalid assessment_type %q", q.AssessmentType))
	}

	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}

	return nil
}
