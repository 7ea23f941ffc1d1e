package planstore

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/retrovue/core/internal/model"
	"github.com/retrovue/core/internal/retrovueerr"
)

// programmingDay is the span every full-day coverage check validates
// against. The channel's configured programming_day_start_local only
// shifts the anchor, not the 24h span itself, so validation works in
// zone-relative offsets (0..24h) rather than wall-clock local time.
const programmingDay = 24 * time.Hour

// Validate checks a SchedulePlan against every invariant PlanStore enforces
// on write: name non-empty, date range monotonicity, cron syntax, priority,
// zone overlap, and full-day coverage.
func Validate(plan *model.SchedulePlan) error {
	if strings.TrimSpace(plan.Name) == "" {
		return retrovueerr.New(retrovueerr.CodePlanValidation, "Validate", "plan name must not be blank")
	}
	if plan.Priority < 0 {
		return retrovueerr.New(retrovueerr.CodePlanValidation, "Validate", "priority must be non-negative")
	}
	if plan.StartDate != nil && plan.EndDate != nil && plan.EndDate.Before(*plan.StartDate) {
		return retrovueerr.New(retrovueerr.CodePlanValidation, "Validate", "end_date must not precede start_date")
	}
	if plan.CronDayFilter != "" {
		if _, err := ParseDayFilter(plan.CronDayFilter); err != nil {
			return retrovueerr.Wrap(retrovueerr.CodePlanValidation, "Validate", err)
		}
	}
	if err := validateZones(plan.Zones); err != nil {
		return err
	}
	return nil
}

// ParseDayFilter parses a 5-field cron expression, rejecting any expression
// whose minute or hour field is not "*" (only date/day-of-week fields are
// significant per the specification).
func ParseDayFilter(expr string) (cron.Schedule, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, fmt.Errorf("cron day filter must have 5 fields (minute hour dom month dow), got %d", len(fields))
	}
	if fields[0] != "*" || fields[1] != "*" {
		return nil, fmt.Errorf("cron day filter minute and hour fields must be \"*\": only date/day-of-week fields are honored")
	}
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron day filter: %w", err)
	}
	return sched, nil
}

// MatchesDay reports whether the parsed day filter fires at all within the
// given local calendar day.
func MatchesDay(sched cron.Schedule, day time.Time) bool {
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	next := sched.Next(dayStart.Add(-time.Second))
	return !next.Before(dayStart) && next.Before(dayStart.Add(24*time.Hour))
}

// PlanActiveOn reports whether plan is active (flag, date range, and cron
// day filter) on the given local calendar day.
func PlanActiveOn(plan *model.SchedulePlan, day time.Time) bool {
	if !plan.Active {
		return false
	}
	dayOnly := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	if plan.StartDate != nil {
		start := time.Date(plan.StartDate.Year(), plan.StartDate.Month(), plan.StartDate.Day(), 0, 0, 0, 0, day.Location())
		if dayOnly.Before(start) {
			return false
		}
	}
	if plan.EndDate != nil {
		end := time.Date(plan.EndDate.Year(), plan.EndDate.Month(), plan.EndDate.Day(), 0, 0, 0, 0, day.Location())
		if dayOnly.After(end) {
			return false
		}
	}
	if plan.CronDayFilter == "" {
		return true
	}
	sched, err := ParseDayFilter(plan.CronDayFilter)
	if err != nil {
		return false
	}
	return MatchesDay(sched, dayOnly)
}

// validateZones checks, independently for each weekday any zone claims,
// that the zones covering that weekday tile [0, 24h) with no gap and no
// overlap. A weekday claimed by no zone is not validated here: the plan
// simply contributes no coverage for that day, and a lower-priority plan
// (or the absence of one) is a PlanStore.AssetsFor()-time concern, not a
// per-plan write-time one.
func validateZones(zones []*model.Zone) error {
	for _, z := range zones {
		if z.From < 0 || z.To > programmingDay || z.To <= z.From {
			return retrovueerr.New(retrovueerr.CodePlanValidation, "validateZones",
				fmt.Sprintf("zone %q has an invalid window [%s, %s)", z.Name, z.From, z.To)).
				WithOffending([]string{string(z.ID)}, fmt.Sprintf("[%s,%s)", z.From, z.To))
		}
	}

	for weekday := time.Sunday; weekday <= time.Saturday; weekday++ {
		var active []*model.Zone
		for _, z := range zones {
			if z.DayMask.Includes(weekday) {
				active = append(active, z)
			}
		}
		if len(active) == 0 {
			continue
		}
		if err := validateDayCoverage(weekday, active); err != nil {
			return err
		}
	}
	return nil
}

func validateDayCoverage(weekday time.Weekday, zones []*model.Zone) error {
	sorted := append([]*model.Zone(nil), zones...)
	sortZonesByFrom(sorted)

	cursor := time.Duration(0)
	for _, z := range sorted {
		if z.From < cursor {
			return retrovueerr.New(retrovueerr.CodePlanValidation, "validateDayCoverage",
				fmt.Sprintf("zones overlap on %s: %q starts at %s before prior zone ends at %s", weekday, z.Name, z.From, cursor)).
				WithOffending([]string{string(z.ID)}, fmt.Sprintf("[%s,%s)", z.From, z.To))
		}
		if z.From > cursor {
			return retrovueerr.New(retrovueerr.CodePlanValidation, "validateDayCoverage",
				fmt.Sprintf("gap on %s between %s and %s", weekday, cursor, z.From)).
				WithOffending([]string{string(z.ID)}, fmt.Sprintf("[%s,%s)", cursor, z.From))
		}
		cursor = z.To
	}
	if cursor != programmingDay {
		return retrovueerr.New(retrovueerr.CodePlanValidation, "validateDayCoverage",
			fmt.Sprintf("zones on %s leave a gap from %s to %s", weekday, cursor, programmingDay))
	}
	return nil
}

func sortZonesByFrom(zones []*model.Zone) {
	for i := 1; i < len(zones); i++ {
		for j := i; j > 0 && zones[j-1].From > zones[j].From; j-- {
			zones[j-1], zones[j] = zones[j], zones[j-1]
		}
	}
}
