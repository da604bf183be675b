package availability

import (
	"time"

	"github.com/google/uuid"

	"github.com/slotwise/booking-engine/internal/slot"
)

// Expand turns a rule and a closed [fromDate, toDate] calendar range into the
// ordered sequence of candidate slots. Pure function; persistence is the
// caller's concern.
//
// For every date in range whose weekday the rule covers, slots are walked
// from startHour:00 in slotDuration steps. A final partial interval that
// would cross endHour:00 is dropped, so every candidate lies inside
// [startHour, endHour] and slots within a day are contiguous and
// non-overlapping.
func Expand(rule Rule, fromDate, toDate time.Time, slotDuration int) ([]slot.Slot, error) {
	if rule.StartHour >= rule.EndHour {
		return nil, ErrInvalidRule
	}
	if slotDuration <= 0 {
		return nil, ErrInvalidDuration
	}

	from := truncateToDay(fromDate)
	to := truncateToDay(toDate)
	if to.Before(from) {
		return nil, ErrInvalidRange
	}

	var days map[time.Weekday]struct{}
	if rule.RuleType != RuleSpecificDate {
		var err error
		days, err = ParseDays(rule.DaysOfWeek)
		if err != nil {
			return nil, err
		}
	}

	step := time.Duration(slotDuration) * time.Minute
	ruleID := rule.ID

	var out []slot.Slot
	for day := from; !day.After(to); day = day.AddDate(0, 0, 1) {
		if days != nil {
			if _, ok := days[day.Weekday()]; !ok {
				continue
			}
		}

		cur := day.Add(time.Duration(rule.StartHour) * time.Hour)
		dayEnd := day.Add(time.Duration(rule.EndHour) * time.Hour)

		for cur.Before(dayEnd) {
			end := cur.Add(step)
			if end.After(dayEnd) {
				break
			}
			out = append(out, slot.Slot{
				ID:          uuid.New(),
				HostID:      rule.HostID,
				RuleID:      &ruleID,
				StartTime:   cur,
				EndTime:     end,
				IsAvailable: true,
			})
			cur = end
		}
	}

	return out, nil
}

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
