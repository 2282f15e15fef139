package memory

import (
	"slices"

	"github.com/google/uuid"

	"github.com/JakeFAU/clip-harvester/internal/entity"
	"github.com/JakeFAU/clip-harvester/internal/store"
)

// Counts is a row count per table of the committed state.
type Counts struct {
	Institutions   int
	Departments    int
	Courses        int
	Classes        int
	ClassInstances int
	Students       int
	Turns          int
	TurnTeachers   int
	TurnStudents   int
	TurnInstances  int
	Teachers       int
	Buildings      int
	Classrooms     int
	Admissions     int
	Enrollments    int
	Failures       int
}

// Committed counts the rows that survived the last commit.
func (b *Backend) Committed() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()
	t := b.committed
	instances := 0
	for _, rows := range t.turnInstances {
		instances += len(rows)
	}
	return Counts{
		Institutions:   len(t.institutions),
		Departments:    len(t.departments),
		Courses:        len(t.courses),
		Classes:        len(t.classes),
		ClassInstances: len(t.classInstances),
		Students:       len(t.students),
		Turns:          len(t.turns),
		TurnTeachers:   len(t.turnTeachers),
		TurnStudents:   len(t.turnStudents),
		TurnInstances:  instances,
		Teachers:       len(t.teachers),
		Buildings:      len(t.buildings),
		Classrooms:     len(t.classrooms),
		Admissions:     len(t.admissions),
		Enrollments:    len(t.enrollments),
		Failures:       len(t.failures),
	}
}

// Students returns the committed students ordered by id.
func (b *Backend) Students() []entity.Student {
	b.mu.Lock()
	defer b.mu.Unlock()
	return sortedValues(b.committed.students)
}

// TurnInstances returns the committed weekly occurrences of a turn.
func (b *Backend) TurnInstances(turnID int64) []entity.TurnInstance {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.committed.turnInstances[turnID])
}

// TurnTeachers returns the ids of the teachers linked to a turn, ascending.
func (b *Backend) TurnTeachers(turnID int64) []int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []int64
	for link := range b.committed.turnTeachers {
		if link[0] == turnID {
			out = append(out, link[1])
		}
	}
	slices.Sort(out)
	return out
}

// Admissions returns the committed admissions in insertion order.
func (b *Backend) Admissions() []entity.Admission {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.committed.admissions)
}

// Failures returns the committed failure ledger.
func (b *Backend) Failures() []store.Failure {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.committed.failures)
}

// Run returns a committed run.
func (b *Backend) Run(id uuid.UUID) (store.Run, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	run, ok := b.committed.runs[id]
	return run, ok
}
