package entity

import (
	"fmt"
	"time"
)

// Period letters used by the upstream period selector.
const (
	PeriodAnnual     = "a"
	PeriodSemester   = "s"
	PeriodTrimester  = "t"
	PeriodFourMonths = "q"
)

// PeriodKey addresses a period by type letter and stage.
type PeriodKey struct {
	Letter string
	Stage  int
}

// Period is a calendar slot such as "2nd of 2 semesters".
type Period struct {
	ID         int64
	Stage      int
	Stages     int
	Letter     string
	StartMonth int
	EndMonth   int
}

// Key returns the lookup key of the period.
func (p Period) Key() PeriodKey {
	return PeriodKey{Letter: p.Letter, Stage: p.Stage}
}

// InMonth reports whether month falls inside the period, wrapping over new year.
func (p Period) InMonth(month time.Month) bool {
	if p.StartMonth == 0 || p.EndMonth == 0 {
		return false
	}
	m := int(month)
	if p.StartMonth <= p.EndMonth {
		return p.StartMonth <= m && m <= p.EndMonth
	}
	return m >= p.StartMonth || m <= p.EndMonth
}

func (p Period) String() string {
	return fmt.Sprintf("%d/%d%s", p.Stage, p.Stages, p.Letter)
}

// Admission phases of the national access contest.
const (
	FirstAdmissionPhase = 1
	LastAdmissionPhase  = 3
)

// ValidPhase reports whether phase is an admission phase.
func ValidPhase(phase int) bool {
	return phase >= FirstAdmissionPhase && phase <= LastAdmissionPhase
}

// Admission records a placement of a student (or a bare name) into a course.
// Only one of Student and Name is set.
type Admission struct {
	Student   *Student
	Name      string
	Course    *Course
	Phase     int
	Year      int
	Option    *int
	State     string
	CheckedAt time.Time
}

// TurnType is a session kind, e.g. theoretical or practical.
type TurnType struct {
	ID           int64
	Abbreviation string
	Name         string
}

// Teacher is known only by name upstream.
type Teacher struct {
	ID   int64
	Name string
}

// Weekday maps an upstream weekday name onto a stable id.
type Weekday struct {
	ID   int64
	Name string
}

// Building belongs to an institution.
type Building struct {
	ID          int64
	Name        string
	Institution *Institution
}

// Classroom belongs to a building.
type Classroom struct {
	ID       int64
	Name     string
	Building *Building
}

// Turn is a scheduled session group of a class instance.
type Turn struct {
	ID            int64
	ClassInstance *ClassInstance
	Number        int
	Type          *TurnType
	Enrolled      *int
	Capacity      *int
	Minutes       *int
	Restrictions  string
	Routes        string
	State         string
	Teachers      []string
}

func (t Turn) String() string {
	typ := "?"
	if t.Type != nil {
		typ = t.Type.Abbreviation
	}
	return fmt.Sprintf("%s%d of %v", typ, t.Number, t.ClassInstance)
}

// TurnInstance is one weekly occurrence of a turn. Times are minutes from midnight.
type TurnInstance struct {
	Turn      *Turn
	Start     int
	End       int
	Weekday   int64
	Classroom *Classroom
}
