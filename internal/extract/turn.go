package extract

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/clip-harvester/internal/clip"
)

// Info table keys as printed upstream.
const (
	KeySchedule     = "Marcação"
	KeyWeeklyHours  = "Horas semanais"
	KeyTeachers     = "Docentes"
	KeyStudents     = "Alunos"
	KeyCapacity     = "Capacidade"
	KeyState        = "Estado"
	KeyRestrictions = "Restrições"
	KeyRoutes       = "Percursos"
)

var infoKeys = map[string]struct{}{
	KeySchedule:     {},
	KeyWeeklyHours:  {},
	KeyTeachers:     {},
	KeyStudents:     {},
	KeyCapacity:     {},
	KeyState:        {},
	KeyRestrictions: {},
	KeyRoutes:       {},
}

// InfoTable reads the key/value table of a turn page. A row with an empty key cell
// continues the previous key. Any key outside the known set is a parse error.
func InfoTable(doc *Document) (map[string][]string, error) {
	table := infoTable(doc)
	if table == nil {
		return nil, clip.ParseError("extract.InfoTable", doc.URL, "turn information table not found")
	}

	values := make(map[string][]string)
	var (
		current string
		err     error
	)
	table.Find("tr").EachWithBreak(func(_ int, tr *goquery.Selection) bool {
		cells := tr.ChildrenFiltered("td")
		if cells.Length() < 2 {
			return true
		}
		key := infoKey(cells.Eq(0).Text())
		value := cleanText(cells.Eq(1).Text())
		if key == "" {
			if current == "" {
				return true
			}
			key = current
		} else if _, ok := infoKeys[key]; !ok {
			err = clip.ParseError("extract.InfoTable", doc.URL, "unknown field %q", key)
			return false
		}
		current = key
		if value != "" {
			values[key] = append(values[key], value)
		} else if _, ok := values[key]; !ok {
			values[key] = nil
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return values, nil
}

func infoTable(doc *Document) *goquery.Selection {
	var table *goquery.Selection
	doc.Find("td").EachWithBreak(func(_ int, td *goquery.Selection) bool {
		if _, ok := infoKeys[infoKey(td.Text())]; ok {
			table = td.Closest("table")
			return false
		}
		return true
	})
	return table
}

func infoKey(raw string) string {
	return strings.TrimSuffix(cleanText(raw), ":")
}

// TurnInfo is the typed view of a turn information table.
type TurnInfo struct {
	Schedule     []ScheduleSlot
	Minutes      *int
	Enrolled     *int
	Capacity     *int
	State        string
	Restrictions string
	Routes       string
	Teachers     []string
}

var leadingInt = regexp.MustCompile(`^\d+`)

// Turn types the info table into a TurnInfo. Malformed schedule lines come back as warnings.
func Turn(doc *Document) (TurnInfo, []error, error) {
	values, err := InfoTable(doc)
	if err != nil {
		return TurnInfo{}, nil, err
	}

	var (
		info     TurnInfo
		warnings []error
	)
	for _, line := range values[KeySchedule] {
		slot, err := ParseSchedule(line)
		if err != nil {
			warnings = append(warnings, err)
			continue
		}
		info.Schedule = append(info.Schedule, slot)
	}
	info.Teachers = values[KeyTeachers]
	info.State = first(values[KeyState])
	info.Restrictions = strings.Join(values[KeyRestrictions], "; ")
	info.Routes = strings.Join(values[KeyRoutes], "; ")
	info.Enrolled = count(first(values[KeyStudents]))
	info.Capacity = count(first(values[KeyCapacity]))
	if hours := first(values[KeyWeeklyHours]); hours != "" {
		h, err := strconv.ParseFloat(strings.Replace(strings.Fields(hours)[0], ",", ".", 1), 64)
		if err != nil {
			warnings = append(warnings, clip.RowError("extract.Turn", "weekly hours %q: %v", hours, err))
		} else {
			minutes := int(h*60 + 0.5)
			info.Minutes = &minutes
		}
	}
	return info, warnings, nil
}

func first(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

func count(raw string) *int {
	digits := leadingInt.FindString(raw)
	if digits == "" {
		return nil
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return nil
	}
	return &n
}

// ScheduleSlot is one parsed weekly occurrence.
type ScheduleSlot struct {
	Weekday  string
	Start    int
	End      int
	Room     string
	Building string
}

// HasLocation reports whether the line carried a room descriptor.
func (s ScheduleSlot) HasLocation() bool {
	return s.Building != ""
}

var (
	scheduleExp     = regexp.MustCompile(`^\s*(\S+)\s+(\d{1,2}):(\d{2})\s*-\s*(\d{1,2}):(\d{2})\s*(.*?)\s*$`)
	roomExp         = regexp.MustCompile(`^Ed\s+([^:]+?)\s*:\s*([^/]+?)\s*/\s*(.*)$`)
	buildingOnlyExp = regexp.MustCompile(`^Ed\s*:\s*[^/]*/\s*(.+)$`)
)

// ParseSchedule parses "<weekday> HH:MM - HH:MM [descriptor]". Times become minutes from midnight.
// A missing or unrecognised descriptor leaves the location empty.
func ParseSchedule(line string) (ScheduleSlot, error) {
	m := scheduleExp.FindStringSubmatch(line)
	if m == nil {
		return ScheduleSlot{}, clip.RowError("extract.ParseSchedule", "unrecognised schedule %q", line)
	}
	start, err := minutes(m[2], m[3])
	if err != nil {
		return ScheduleSlot{}, clip.RowError("extract.ParseSchedule", "start of %q: %v", line, err)
	}
	end, err := minutes(m[4], m[5])
	if err != nil {
		return ScheduleSlot{}, clip.RowError("extract.ParseSchedule", "end of %q: %v", line, err)
	}
	if end <= start {
		return ScheduleSlot{}, clip.RowError("extract.ParseSchedule", "slot %q ends before it starts", line)
	}

	slot := ScheduleSlot{Weekday: m[1], Start: start, End: end}
	descriptor := m[6]
	if room := roomExp.FindStringSubmatch(descriptor); room != nil {
		slot.Room = room[2]
		slot.Building = strings.TrimSpace(room[3])
		if slot.Building == "" {
			slot.Building = "Ed " + room[1]
		}
	} else if building := buildingOnlyExp.FindStringSubmatch(descriptor); building != nil {
		slot.Building = strings.TrimSpace(building[1])
		slot.Room = slot.Building
	}
	return slot, nil
}

func minutes(hour, minute string) (int, error) {
	h, err := strconv.Atoi(hour)
	if err != nil {
		return 0, err
	}
	m, err := strconv.Atoi(minute)
	if err != nil {
		return 0, err
	}
	if h > 24 || m > 59 {
		return 0, strconv.ErrRange
	}
	return h*60 + m, nil
}
