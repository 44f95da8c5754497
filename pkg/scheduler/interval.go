package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var descriptorParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseInterval parses a task interval. Accepted forms are a bare integer
// (milliseconds), a Go duration such as "500ms" and a cron "@every"
// descriptor such as "@every 5s". Descriptors have one-second resolution.
// Calendar schedules are rejected because the scheduler only knows fixed
// intervals.
func ParseInterval(expr string) (time.Duration, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return 0, fmt.Errorf("empty interval")
	}

	if ms, err := strconv.ParseInt(expr, 10, 64); err == nil {
		return checkInterval(time.Duration(ms) * time.Millisecond)
	}

	if !strings.HasPrefix(expr, "@") {
		d, err := time.ParseDuration(expr)
		if err != nil {
			return 0, fmt.Errorf("invalid interval %q: %w", expr, err)
		}
		return checkInterval(d)
	}

	sched, err := descriptorParser.Parse(expr)
	if err != nil {
		return 0, fmt.Errorf("invalid interval descriptor %q: %w", expr, err)
	}
	every, ok := sched.(cron.ConstantDelaySchedule)
	if !ok {
		return 0, fmt.Errorf("interval descriptor %q is not a fixed delay, use @every", expr)
	}
	return checkInterval(every.Delay)
}

func checkInterval(d time.Duration) (time.Duration, error) {
	if d < time.Millisecond {
		return 0, ErrInvalidInterval
	}
	return d, nil
}
