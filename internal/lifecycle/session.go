package lifecycle

import (
	"fmt"
	"time"
)

// Session 为每日允许开仓的时段，区间两端均不包含。End 早于 Start 时跨越午夜。
type Session struct {
	start    time.Duration
	end      time.Duration
	location *time.Location
}

// ParseSession 解析 "HH:MM" 格式的时段。start 与 end 都为空时返回 nil，表示全天有效。
func ParseSession(start, end, location string) (*Session, error) {
	if start == "" && end == "" {
		return nil, nil
	}

	s, err := parseClock(start)
	if err != nil {
		return nil, err
	}
	e, err := parseClock(end)
	if err != nil {
		return nil, err
	}
	if s == e {
		return nil, fmt.Errorf("lifecycle: 交易时段起止时间相同: %s", start)
	}

	loc := time.UTC
	if location != "" {
		if loc, err = time.LoadLocation(location); err != nil {
			return nil, fmt.Errorf("lifecycle: 加载时区失败: %w", err)
		}
	}

	return &Session{start: s, end: e, location: loc}, nil
}

func parseClock(v string) (time.Duration, error) {
	t, err := time.Parse("15:04", v)
	if err != nil {
		return 0, fmt.Errorf("lifecycle: 时段格式必须为 HH:MM: %q", v)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// Active 判断 t 是否位于时段内。nil 时段始终有效。
func (s *Session) Active(t time.Time) bool {
	if s == nil {
		return true
	}

	local := t.In(s.location)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.location)
	offset := local.Sub(midnight)

	if s.start < s.end {
		return offset > s.start && offset < s.end
	}
	return offset > s.start || offset < s.end
}
