package chat

import (
	"sort"
	"time"

	"github.com/matheus3301/wpprtc/internal/model"
	"go.uber.org/zap"
)

// DayGroup is the run of messages created on one calendar day.
type DayGroup struct {
	Key      string
	Day      time.Time
	Messages []model.Message
}

// GroupByDay orders the active list by creation time and splits it by
// calendar day in loc. Messages whose timestamp does not parse are left out
// and logged.
func (e *Engine) GroupByDay(loc *time.Location) []DayGroup {
	return GroupByDay(e.Messages(), loc, e.logger)
}

// GroupByDay is the list-independent form of Engine.GroupByDay.
func GroupByDay(msgs []model.Message, loc *time.Location, logger *zap.Logger) []DayGroup {
	if loc == nil {
		loc = time.Local
	}
	type stamped struct {
		at  time.Time
		msg model.Message
	}
	valid := make([]stamped, 0, len(msgs))
	for _, m := range msgs {
		at, err := m.Time()
		if err != nil {
			if logger != nil {
				logger.Warn("skipping message with invalid timestamp", zap.String("message", m.Key()), zap.Error(err))
			}
			continue
		}
		valid = append(valid, stamped{at: at.In(loc), msg: m})
	}
	sort.SliceStable(valid, func(i, j int) bool { return valid[i].at.Before(valid[j].at) })

	var groups []DayGroup
	for _, s := range valid {
		key := s.at.Format("2006-01-02")
		if n := len(groups); n == 0 || groups[n-1].Key != key {
			y, mo, d := s.at.Date()
			groups = append(groups, DayGroup{Key: key, Day: time.Date(y, mo, d, 0, 0, 0, 0, loc)})
		}
		g := &groups[len(groups)-1]
		g.Messages = append(g.Messages, s.msg)
	}
	return groups
}

// DayLabel renders a group heading relative to now: Today, Yesterday, or the
// full date.
func DayLabel(day, now time.Time) string {
	y, m, d := now.Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	dy, dm, dd := day.In(now.Location()).Date()
	start := time.Date(dy, dm, dd, 0, 0, 0, 0, now.Location())
	switch {
	case start.Equal(today):
		return "Today"
	case start.Equal(today.AddDate(0, 0, -1)):
		return "Yesterday"
	default:
		return start.Format("2006 January 2")
	}
}
