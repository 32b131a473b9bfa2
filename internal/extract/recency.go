package extract

import (
	"strconv"
	"strings"
	"time"
)

var monthAbbrev = [...]string{"Дек", "Янв", "Фев", "Мар", "Апр", "Май", "Июн", "Июл", "Авг", "Сен", "Окт", "Ноя", "Дек"}

// isRecent reports whether a posting date like "12-Окт-2026 14:03" falls in
// the current or previous month of now. Dates that do not split into three
// parts, or whose year cannot be read, count as recent.
func isRecent(posted string, now time.Time) bool {
	parts := strings.Split(strings.TrimSpace(posted), "-")
	if len(parts) != 3 {
		return true
	}
	month := strings.TrimSpace(parts[1])
	fields := strings.Fields(parts[2])
	if len(fields) == 0 {
		return true
	}
	year, err := strconv.Atoi(fields[0])
	if err != nil {
		return true
	}
	cur := int(now.Month())
	if year == now.Year() {
		return month == monthAbbrev[cur] || (cur > 1 && month == monthAbbrev[cur-1])
	}
	// December postings stay recent through January.
	return cur == 1 && year == now.Year()-1 && month == monthAbbrev[0]
}
