// Package validator judges evidence submitted against an item's
// completion criteria.
package validator

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"stepline/internal/domain"
)

// Validator decides whether content satisfies criteria. A failed check is
// reported as passed=false with a message, not as an error; err is reserved
// for the validator itself breaking.
type Validator interface {
	Validate(ctx context.Context, content string, criteria *domain.Criteria, contentKind string) (passed bool, message string, err error)
}

// Rules checks criteria locally without calling out to anything.
type Rules struct {
	// DefaultMinLength applies when the criteria set none.
	DefaultMinLength int
}

func (r Rules) Validate(ctx context.Context, content string, criteria *domain.Criteria, contentKind string) (bool, string, error) {
	if err := ctx.Err(); err != nil {
		return false, "", err
	}
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return false, "content is empty", nil
	}
	minLen := r.DefaultMinLength
	if criteria != nil && criteria.MinLength > 0 {
		minLen = criteria.MinLength
	}
	if criteria != nil && len(criteria.ContentKinds) > 0 && !slices.Contains(criteria.ContentKinds, contentKind) {
		return false, fmt.Sprintf("content kind %q not accepted; expected one of %s", contentKind, strings.Join(criteria.ContentKinds, ", ")), nil
	}
	if n := len([]rune(trimmed)); n < minLen {
		return false, fmt.Sprintf("content too short: %d characters, need at least %d", n, minLen), nil
	}
	if criteria == nil {
		return true, "", nil
	}
	lower := strings.ToLower(trimmed)
	var missing []string
	for _, phrase := range criteria.MustInclude {
		if !strings.Contains(lower, strings.ToLower(phrase)) {
			missing = append(missing, phrase)
		}
	}
	if len(missing) > 0 {
		return false, "missing required content: " + strings.Join(missing, ", "), nil
	}
	if criteria.Pattern != "" {
		re, err := regexp.Compile(criteria.Pattern)
		if err != nil {
			return false, "", fmt.Errorf("criteria pattern: %w", err)
		}
		if !re.MatchString(trimmed) {
			return false, fmt.Sprintf("content does not match pattern %s", criteria.Pattern), nil
		}
	}
	return true, "", nil
}

// CheckCriteria rejects criteria that could never be evaluated.
func CheckCriteria(c *domain.Criteria) error {
	if c == nil {
		return nil
	}
	switch c.Mode {
	case domain.CriteriaNone, domain.CriteriaAggregate, domain.CriteriaEvidence:
	default:
		return domain.Errorf(domain.KindInvalid, "unknown criteria mode %q", c.Mode)
	}
	if c.MinLength < 0 {
		return domain.Errorf(domain.KindInvalid, "criteria min_length must be >= 0")
	}
	if c.Pattern != "" {
		if _, err := regexp.Compile(c.Pattern); err != nil {
			return domain.Errorf(domain.KindInvalid, "criteria pattern: %v", err)
		}
	}
	return nil
}
