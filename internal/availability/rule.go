package availability

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type RuleType string

const (
	RuleWeekly       RuleType = "WEEKLY"
	RuleSpecificDate RuleType = "SPECIFIC_DATE"
)

var (
	ErrInvalidRule     = errors.New("rule start hour must be before end hour")
	ErrInvalidDays     = errors.New("invalid day-of-week token")
	ErrInvalidRange    = errors.New("to date is before from date")
	ErrInvalidDuration = errors.New("slot duration must be positive")
	ErrRuleNotFound    = errors.New("availability rule not found")
	ErrRuleInactive    = errors.New("availability rule is not active")

	// ErrStoreUnavailable marks timeouts and connection failures as
	// retryable; callers map it to 503.
	ErrStoreUnavailable = errors.New("rule store unavailable")
)

// Rule is a host's recurring availability definition. DaysOfWeek is a comma
// separated list of MON..SUN tokens; a SPECIFIC_DATE rule ignores it and
// matches every date of the requested range.
type Rule struct {
	ID         uuid.UUID
	HostID     uuid.UUID
	RuleType   RuleType
	DaysOfWeek string
	StartHour  int
	EndHour    int
	IsActive   bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

var dayTokens = map[string]time.Weekday{
	"SUN": time.Sunday,
	"MON": time.Monday,
	"TUE": time.Tuesday,
	"WED": time.Wednesday,
	"THU": time.Thursday,
	"FRI": time.Friday,
	"SAT": time.Saturday,
}

// ParseDays turns "MON,TUE,FRI" into a weekday set. Empty input yields an
// empty set, not an error; a weekly rule with no days simply never matches.
func ParseDays(csv string) (map[time.Weekday]struct{}, error) {
	set := make(map[time.Weekday]struct{})
	if strings.TrimSpace(csv) == "" {
		return set, nil
	}
	for _, tok := range strings.Split(csv, ",") {
		tok = strings.ToUpper(strings.TrimSpace(tok))
		wd, ok := dayTokens[tok]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrInvalidDays, tok)
		}
		set[wd] = struct{}{}
	}
	return set, nil
}

// Validate checks the rule's own invariants, independent of any date range.
func (r Rule) Validate() error {
	if r.StartHour < 0 || r.EndHour > 23 || r.StartHour >= r.EndHour {
		return ErrInvalidRule
	}
	if r.RuleType == RuleWeekly {
		if _, err := ParseDays(r.DaysOfWeek); err != nil {
			return err
		}
	}
	return nil
}
