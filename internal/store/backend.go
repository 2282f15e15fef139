package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/clip-harvester/internal/entity"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Order sorts class instances by year.
type Order int

// Class instance orderings.
const (
	OrderAscending Order = iota
	OrderDescending
)

// Backend persists flat records. Foreign keys are internal ids: references on
// returned entities carry only their ID and are resolved by the Store.
// Writes accumulate in one pending unit of work until Commit.
type Backend interface {
	LoadInstitutions(ctx context.Context) ([]entity.Institution, error)
	LoadDepartments(ctx context.Context) ([]entity.Department, error)
	LoadDegrees(ctx context.Context) ([]entity.Degree, error)
	LoadPeriods(ctx context.Context) ([]entity.Period, error)
	LoadCourses(ctx context.Context) ([]entity.Course, error)
	LoadWeekdays(ctx context.Context) ([]entity.Weekday, error)
	LoadTurnTypes(ctx context.Context) ([]entity.TurnType, error)
	LoadTeachers(ctx context.Context) ([]entity.Teacher, error)
	LoadBuildings(ctx context.Context) ([]entity.Building, error)
	LoadClassrooms(ctx context.Context) ([]entity.Classroom, error)

	InsertInstitution(ctx context.Context, inst entity.Institution) (int64, error)
	UpdateInstitution(ctx context.Context, inst entity.Institution) error
	InsertDepartment(ctx context.Context, dept entity.Department) (int64, error)
	UpdateDepartment(ctx context.Context, dept entity.Department) error
	InsertDegree(ctx context.Context, degree entity.Degree) (int64, error)
	InsertCourse(ctx context.Context, course entity.Course) (int64, error)
	UpdateCourse(ctx context.Context, course entity.Course) error

	// FindClass returns ErrNotFound when no class matches.
	FindClass(ctx context.Context, departmentID int64, externalID string) (entity.Class, error)
	InsertClass(ctx context.Context, class entity.Class) (int64, error)
	// FindClassInstance returns ErrNotFound when no instance matches.
	FindClassInstance(ctx context.Context, classID, periodID int64, year int) (int64, error)
	InsertClassInstance(ctx context.Context, ci entity.ClassInstance) (int64, error)
	ClassInstances(ctx context.Context, order Order) ([]entity.ClassInstance, error)

	FindStudents(ctx context.Context, externalID string) ([]entity.Student, error)
	InsertStudent(ctx context.Context, student entity.Student) (int64, error)
	UpdateStudent(ctx context.Context, student entity.Student) error
	SearchStudents(ctx context.Context, pattern string) ([]entity.Student, error)

	// FindTurn returns ErrNotFound when no turn matches.
	FindTurn(ctx context.Context, classInstanceID int64, number int, typeID int64) (entity.Turn, error)
	InsertTurn(ctx context.Context, turn entity.Turn) (int64, error)
	UpdateTurn(ctx context.Context, turn entity.Turn) error
	InsertTeacher(ctx context.Context, name string) (int64, error)
	// ReplaceTurnTeachers sets the teachers of a turn, dropping links not in teacherIDs.
	ReplaceTurnTeachers(ctx context.Context, turnID int64, teacherIDs []int64) error
	LinkTurnStudent(ctx context.Context, turnID, studentID int64) error
	InsertBuilding(ctx context.Context, building entity.Building) (int64, error)
	InsertClassroom(ctx context.Context, classroom entity.Classroom) (int64, error)
	ReplaceTurnInstances(ctx context.Context, turnID int64, instances []entity.TurnInstance) error

	InsertAdmission(ctx context.Context, admission entity.Admission) error
	// InsertEnrollment reports false when the enrollment already existed.
	InsertEnrollment(ctx context.Context, enrollment entity.Enrollment) (bool, error)

	InsertRun(ctx context.Context, run Run) error
	FinishRun(ctx context.Context, run Run) error
	InsertFailure(ctx context.Context, failure Failure) error

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// RunStatus mirrors the harvest_runs status column.
type RunStatus string

// Harvest run statuses.
const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunError   RunStatus = "error"
)

// Run is one invocation of the harvester.
type Run struct {
	ID         uuid.UUID
	Phases     []string
	StartedAt  time.Time
	FinishedAt *time.Time
	Status     RunStatus
	// ErrorMessage optionally stores the final failure reason.
	ErrorMessage *string
}

// Failure is one work item that could not be completed.
type Failure struct {
	RunID      uuid.UUID
	Phase      string
	Item       string
	URL        string
	Kind       string
	Message    string
	OccurredAt time.Time
}
