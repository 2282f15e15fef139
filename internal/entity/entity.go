// Package entity defines the typed academic records harvested from CLIP.
package entity

import "fmt"

// Identity pairs the upstream (external) identifier with the id assigned by the store.
type Identity struct {
	ExternalID string
	ID         int64
}

// Same reports whether two identities refer to the same record.
// Internal ids win when both are known; names are never compared.
func (i Identity) Same(other Identity) bool {
	if i.ID != 0 && other.ID != 0 {
		return i.ID == other.ID
	}
	return i.ExternalID == other.ExternalID
}

// Persisted reports whether the store has assigned an internal id.
func (i Identity) Persisted() bool {
	return i.ID != 0
}

// YearRange is an activity range. Zero bounds are unknown.
type YearRange struct {
	First int
	Last  int
}

// NewYearRange returns a range covering a single year.
func NewYearRange(year int) YearRange {
	return YearRange{First: year, Last: year}
}

// Known reports whether both bounds are set.
func (r YearRange) Known() bool {
	return r.First != 0 && r.Last != 0
}

// Contains reports whether year falls inside a known range.
func (r YearRange) Contains(year int) bool {
	return r.Known() && r.First <= year && year <= r.Last
}

// AddYear widens the range to include year. It never narrows.
func (r *YearRange) AddYear(year int) {
	if year == 0 {
		return
	}
	if r.First == 0 || year < r.First {
		r.First = year
	}
	if r.Last == 0 || year > r.Last {
		r.Last = year
	}
}

// Merge returns the union of both ranges and whether it differs from r.
func (r YearRange) Merge(other YearRange) (YearRange, bool) {
	merged := r
	if other.First != 0 && (merged.First == 0 || other.First < merged.First) {
		merged.First = other.First
	}
	if other.Last != 0 && (merged.Last == 0 || other.Last > merged.Last) {
		merged.Last = other.Last
	}
	return merged, merged != r
}

// Years lists every year of a known range in ascending order.
func (r YearRange) Years() []int {
	if !r.Known() || r.First > r.Last {
		return nil
	}
	years := make([]int, 0, r.Last-r.First+1)
	for y := r.First; y <= r.Last; y++ {
		years = append(years, y)
	}
	return years
}

func (r YearRange) String() string {
	if !r.Known() {
		return ""
	}
	return fmt.Sprintf("%d-%d", r.First, r.Last)
}

// Institution is a faculty or school of the university.
type Institution struct {
	Identity
	Abbreviation string
	Name         string
	Years        YearRange
}

// NewInstitution builds an institution whose display name defaults to its abbreviation.
func NewInstitution(externalID, abbreviation string) Institution {
	return Institution{
		Identity:     Identity{ExternalID: externalID},
		Abbreviation: abbreviation,
		Name:         abbreviation,
	}
}

func (i Institution) String() string {
	return fmt.Sprintf("%s(id:%s db:%d) %s", i.Name, i.ExternalID, i.ID, i.Years)
}

// Department belongs to exactly one institution.
type Department struct {
	Identity
	Name        string
	Institution *Institution
	Years       YearRange
}

func (d Department) String() string {
	inst := ""
	if d.Institution != nil {
		inst = d.Institution.ExternalID
	}
	return fmt.Sprintf("%s(id:%s inst:%s db:%d) %s", d.Name, d.ExternalID, inst, d.ID, d.Years)
}

// Degree is an academic degree such as a licentiate or a master.
type Degree struct {
	Identity
	Name string
}

// Course is a degree programme offered by an institution.
type Course struct {
	Identity
	Name         string
	Abbreviation string
	Degree       *Degree
	Institution  *Institution
	Years        YearRange
}

func (c Course) String() string {
	return fmt.Sprintf("%s[%s](id:%s db:%d) %s", c.Name, c.Abbreviation, c.ExternalID, c.ID, c.Years)
}

// Class is a curricular unit owned by a department.
type Class struct {
	Identity
	Name       string
	Department *Department
}

func (c Class) String() string {
	return fmt.Sprintf("%s(id:%s db:%d)", c.Name, c.ExternalID, c.ID)
}

// ClassInstance is a class taught in one period of one year.
type ClassInstance struct {
	ID     int64
	Class  *Class
	Period *Period
	Year   int
}

func (ci ClassInstance) String() string {
	return fmt.Sprintf("%v %v %d", ci.Class, ci.Period, ci.Year)
}

// Student is identified upstream by a number that is only unique together with the name.
type Student struct {
	Identity
	Name         string
	Abbreviation string
	Course       *Course
	Institution  *Institution
}

func (s Student) String() string {
	return fmt.Sprintf("%s[%s](id:%s db:%d)", s.Name, s.Abbreviation, s.ExternalID, s.ID)
}

// Enrollment is a student's attempt at a class instance.
type Enrollment struct {
	Student       *Student
	ClassInstance *ClassInstance
	Attempt       int
	StudentYear   int
	Statutes      string
	Observation   string
}
