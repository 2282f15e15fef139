// Package memory provides in-memory implementations of the harvester's storage
// contracts for tests and dry runs.
package memory

import (
	"context"
	"fmt"
	"maps"
	"regexp"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/JakeFAU/clip-harvester/internal/entity"
	"github.com/JakeFAU/clip-harvester/internal/store"
)

type pair [2]int64

type tables struct {
	nextID         int64
	institutions   map[int64]entity.Institution
	departments    map[int64]entity.Department
	degrees        map[int64]entity.Degree
	periods        map[int64]entity.Period
	courses        map[int64]entity.Course
	weekdays       map[int64]entity.Weekday
	turnTypes      map[int64]entity.TurnType
	teachers       map[int64]entity.Teacher
	buildings      map[int64]entity.Building
	classrooms     map[int64]entity.Classroom
	classes        map[int64]entity.Class
	classInstances map[int64]entity.ClassInstance
	students       map[int64]entity.Student
	turns          map[int64]entity.Turn
	turnTeachers   map[pair]struct{}
	turnStudents   map[pair]struct{}
	turnInstances  map[int64][]entity.TurnInstance
	admissions     []entity.Admission
	enrollments    map[pair]entity.Enrollment
	runs           map[uuid.UUID]store.Run
	failures       []store.Failure
}

func newTables() tables {
	return tables{
		nextID:         1000,
		institutions:   make(map[int64]entity.Institution),
		departments:    make(map[int64]entity.Department),
		degrees:        make(map[int64]entity.Degree),
		periods:        make(map[int64]entity.Period),
		courses:        make(map[int64]entity.Course),
		weekdays:       make(map[int64]entity.Weekday),
		turnTypes:      make(map[int64]entity.TurnType),
		teachers:       make(map[int64]entity.Teacher),
		buildings:      make(map[int64]entity.Building),
		classrooms:     make(map[int64]entity.Classroom),
		classes:        make(map[int64]entity.Class),
		classInstances: make(map[int64]entity.ClassInstance),
		students:       make(map[int64]entity.Student),
		turns:          make(map[int64]entity.Turn),
		turnTeachers:   make(map[pair]struct{}),
		turnStudents:   make(map[pair]struct{}),
		turnInstances:  make(map[int64][]entity.TurnInstance),
		enrollments:    make(map[pair]entity.Enrollment),
		runs:           make(map[uuid.UUID]store.Run),
	}
}

func (t tables) clone() tables {
	return tables{
		nextID:         t.nextID,
		institutions:   maps.Clone(t.institutions),
		departments:    maps.Clone(t.departments),
		degrees:        maps.Clone(t.degrees),
		periods:        maps.Clone(t.periods),
		courses:        maps.Clone(t.courses),
		weekdays:       maps.Clone(t.weekdays),
		turnTypes:      maps.Clone(t.turnTypes),
		teachers:       maps.Clone(t.teachers),
		buildings:      maps.Clone(t.buildings),
		classrooms:     maps.Clone(t.classrooms),
		classes:        maps.Clone(t.classes),
		classInstances: maps.Clone(t.classInstances),
		students:       maps.Clone(t.students),
		turns:          maps.Clone(t.turns),
		turnTeachers:   maps.Clone(t.turnTeachers),
		turnStudents:   maps.Clone(t.turnStudents),
		turnInstances:  maps.Clone(t.turnInstances),
		admissions:     slices.Clone(t.admissions),
		enrollments:    maps.Clone(t.enrollments),
		runs:           maps.Clone(t.runs),
		failures:       slices.Clone(t.failures),
	}
}

func (t *tables) id() int64 {
	t.nextID++
	return t.nextID
}

// Backend is a store.Backend over maps. Writes land in a working copy that
// Commit publishes and Rollback discards. Every call is counted by operation name.
type Backend struct {
	mu        sync.Mutex
	committed tables
	working   tables
	calls     map[string]int
	failures  map[string]error
}

var _ store.Backend = (*Backend)(nil)

// NewBackend returns a backend seeded with the reference tables.
func NewBackend() *Backend {
	t := newTables()
	for _, p := range store.SeedPeriods {
		t.periods[p.ID] = p
	}
	for _, d := range store.SeedDegrees {
		t.degrees[d.ID] = d
	}
	for _, tt := range store.SeedTurnTypes {
		t.turnTypes[tt.ID] = tt
	}
	for _, w := range store.SeedWeekdays {
		t.weekdays[w.ID] = w
	}
	return &Backend{
		committed: t.clone(),
		working:   t,
		calls:     make(map[string]int),
		failures:  make(map[string]error),
	}
}

// Calls reports how many times op was invoked, e.g. "UpdateDepartment".
func (b *Backend) Calls(op string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[op]
}

// FailNext makes the next call of op return err.
func (b *Backend) FailNext(op string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures[op] = err
}

// enter counts a call and returns an injected failure, if any. Callers hold mu.
func (b *Backend) enter(op string) error {
	b.calls[op]++
	if err, ok := b.failures[op]; ok {
		delete(b.failures, op)
		return err
	}
	return nil
}

func institutionStub(in *entity.Institution) *entity.Institution {
	if in == nil {
		return nil
	}
	return &entity.Institution{Identity: entity.Identity{ID: in.ID}}
}

func departmentStub(in *entity.Department) *entity.Department {
	if in == nil {
		return nil
	}
	return &entity.Department{Identity: entity.Identity{ID: in.ID}}
}

func courseStub(in *entity.Course) *entity.Course {
	if in == nil {
		return nil
	}
	return &entity.Course{Identity: entity.Identity{ID: in.ID}}
}

func degreeStub(in *entity.Degree) *entity.Degree {
	if in == nil {
		return nil
	}
	return &entity.Degree{Identity: entity.Identity{ID: in.ID}}
}

func sortedValues[T any](m map[int64]T) []T {
	keys := slices.Sorted(maps.Keys(m))
	out := make([]T, 0, len(keys))
	for _, k := range keys {
		out = append(out, m[k])
	}
	return out
}

// LoadInstitutions implements store.Backend.
func (b *Backend) LoadInstitutions(context.Context) ([]entity.Institution, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter("LoadInstitutions"); err != nil {
		return nil, err
	}
	return sortedValues(b.working.institutions), nil
}

// LoadDepartments implements store.Backend.
func (b *Backend) LoadDepartments(context.Context) ([]entity.Department, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter("LoadDepartments"); err != nil {
		return nil, err
	}
	return sortedValues(b.working.departments), nil
}

// LoadDegrees implements store.Backend.
func (b *Backend) LoadDegrees(context.Context) ([]entity.Degree, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter("LoadDegrees"); err != nil {
		return nil, err
	}
	return sortedValues(b.working.degrees), nil
}

// LoadPeriods implements store.Backend.
func (b *Backend) LoadPeriods(context.Context) ([]entity.Period, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter("LoadPeriods"); err != nil {
		return nil, err
	}
	return sortedValues(b.working.periods), nil
}

// LoadCourses implements store.Backend.
func (b *Backend) LoadCourses(context.Context) ([]entity.Course, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter("LoadCourses"); err != nil {
		return nil, err
	}
	return sortedValues(b.working.courses), nil
}

// LoadWeekdays implements store.Backend.
func (b *Backend) LoadWeekdays(context.Context) ([]entity.Weekday, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter("LoadWeekdays"); err != nil {
		return nil, err
	}
	return sortedValues(b.working.weekdays), nil
}

// LoadTurnTypes implements store.Backend.
func (b *Backend) LoadTurnTypes(context.Context) ([]entity.TurnType, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter("LoadTurnTypes"); err != nil {
		return nil, err
	}
	return sortedValues(b.working.turnTypes), nil
}

// LoadTeachers implements store.Backend.
func (b *Backend) LoadTeachers(context.Context) ([]entity.Teacher, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter("LoadTeachers"); err != nil {
		return nil, err
	}
	return sortedValues(b.working.teachers), nil
}

// LoadBuildings implements store.Backend.
func (b *Backend) LoadBuildings(context.Context) ([]entity.Building, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter("LoadBuildings"); err != nil {
		return nil, err
	}
	return sortedValues(b.working.buildings), nil
}

// LoadClassrooms implements store.Backend.
func (b *Backend) LoadClassrooms(context.Context) ([]entity.Classroom, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter("LoadClassrooms"); err != nil {
		return nil, err
	}
	return sortedValues(b.working.classrooms), nil
}

// InsertInstitution implements store.Backend.
func (b *Backend) InsertInstitution(_ context.Context, inst entity.Institution) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter("InsertInstitution"); err != nil {
		return 0, err
	}
	for _, stored := range b.working.institutions {
		if stored.ExternalID == inst.ExternalID {
			return 0, fmt.Errorf("duplicate institution %s", inst.ExternalID)
		}
	}
	inst.ID = b.working.id()
	b.working.institutions[inst.ID] = inst
	return inst.ID, nil
}

// UpdateInstitution implements store.Backend.
func (b *Backend) UpdateInstitution(_ context.Context, inst entity.Institution) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter("UpdateInstitution"); err != nil {
		return err
	}
	if _, ok := b.working.institutions[inst.ID]; !ok {
		return store.ErrNotFound
	}
	b.working.institutions[inst.ID] = inst
	return nil
}

// InsertDepartment implements store.Backend.
func (b *Backend) InsertDepartment(_ context.Context, dept entity.Department) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter("InsertDepartment"); err != nil {
		return 0, err
	}
	dept.ID = b.working.id()
	dept.Institution = institutionStub(dept.Institution)
	b.working.departments[dept.ID] = dept
	return dept.ID, nil
}

// UpdateDepartment implements store.Backend.
func (b *Backend) UpdateDepartment(_ context.Context, dept entity.Department) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter("UpdateDepartment"); err != nil {
		return err
	}
	if _, ok := b.working.departments[dept.ID]; !ok {
		return store.ErrNotFound
	}
	dept.Institution = institutionStub(dept.Institution)
	b.working.departments[dept.ID] = dept
	return nil
}

// InsertDegree implements store.Backend.
func (b *Backend) InsertDegree(_ context.Context, degree entity.Degree) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter("InsertDegree"); err != nil {
		return 0, err
	}
	degree.ID = b.working.id()
	b.working.degrees[degree.ID] = degree
	return degree.ID, nil
}

// InsertCourse implements store.Backend.
func (b *Backend) InsertCourse(_ context.Context, course entity.Course) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter("InsertCourse"); err != nil {
		return 0, err
	}
	course.ID = b.working.id()
	course.Institution = institutionStub(course.Institution)
	course.Degree = degreeStub(course.Degree)
	b.working.courses[course.ID] = course
	return course.ID, nil
}

// UpdateCourse implements store.Backend.
func (b *Backend) UpdateCourse(_ context.Context, course entity.Course) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter("UpdateCourse"); err != nil {
		return err
	}
	if _, ok := b.working.courses[course.ID]; !ok {
		return store.ErrNotFound
	}
	course.Institution = institutionStub(course.Institution)
	course.Degree = degreeStub(course.Degree)
	b.working.courses[course.ID] = course
	return nil
}

// FindClass implements store.Backend.
func (b *Backend) FindClass(_ context.Context, departmentID int64, externalID string) (entity.Class, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter("FindClass"); err != nil {
		return entity.Class{}, err
	}
	for _, c := range b.working.classes {
		if c.Department != nil && c.Department.ID == departmentID && c.ExternalID == externalID {
			return c, nil
		}
	}
	return entity.Class{}, store.ErrNotFound
}

// InsertClass implements store.Backend.
func (b *Backend) InsertClass(_ context.Context, class entity.Class) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter("InsertClass"); err != nil {
		return 0, err
	}
	class.ID = b.working.id()
	class.Department = departmentStub(class.Department)
	b.working.classes[class.ID] = class
	return class.ID, nil
}

// FindClassInstance implements store.Backend.
func (b *Backend) FindClassInstance(_ context.Context, classID, periodID int64, year int) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter("FindClassInstance"); err != nil {
		return 0, err
	}
	for id, ci := range b.working.classInstances {
		if ci.Class.ID == classID && ci.Period.ID == periodID && ci.Year == year {
			return id, nil
		}
	}
	return 0, store.ErrNotFound
}

// InsertClassInstance implements store.Backend.
func (b *Backend) InsertClassInstance(_ context.Context, ci entity.ClassInstance) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter("InsertClassInstance"); err != nil {
		return 0, err
	}
	ci.ID = b.working.id()
	ci.Class = &entity.Class{Identity: entity.Identity{ID: ci.Class.ID}}
	ci.Period = &entity.Period{ID: ci.Period.ID}
	b.working.classInstances[ci.ID] = ci
	return ci.ID, nil
}

// ClassInstances implements store.Backend. Classes are joined in full.
func (b *Backend) ClassInstances(_ context.Context, order store.Order) ([]entity.ClassInstance, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter("ClassInstances"); err != nil {
		return nil, err
	}
	out := make([]entity.ClassInstance, 0, len(b.working.classInstances))
	for _, ci := range sortedValues(b.working.classInstances) {
		class, ok := b.working.classes[ci.Class.ID]
		if !ok {
			continue
		}
		ci.Class = &class
		out = append(out, ci)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if order == store.OrderDescending {
			return out[i].Year > out[j].Year
		}
		return out[i].Year < out[j].Year
	})
	return out, nil
}

// FindStudents implements store.Backend.
func (b *Backend) FindStudents(_ context.Context, externalID string) ([]entity.Student, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter("FindStudents"); err != nil {
		return nil, err
	}
	var out []entity.Student
	for _, s := range sortedValues(b.working.students) {
		if s.ExternalID == externalID {
			out = append(out, s)
		}
	}
	return out, nil
}

// InsertStudent implements store.Backend.
func (b *Backend) InsertStudent(_ context.Context, student entity.Student) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter("InsertStudent"); err != nil {
		return 0, err
	}
	student.ID = b.working.id()
	student.Course = courseStub(student.Course)
	student.Institution = institutionStub(student.Institution)
	b.working.students[student.ID] = student
	return student.ID, nil
}

// UpdateStudent implements store.Backend.
func (b *Backend) UpdateStudent(_ context.Context, student entity.Student) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter("UpdateStudent"); err != nil {
		return err
	}
	if _, ok := b.working.students[student.ID]; !ok {
		return store.ErrNotFound
	}
	student.Course = courseStub(student.Course)
	student.Institution = institutionStub(student.Institution)
	b.working.students[student.ID] = student
	return nil
}

// SearchStudents implements store.Backend with case-insensitive LIKE semantics.
func (b *Backend) SearchStudents(_ context.Context, pattern string) ([]entity.Student, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter("SearchStudents"); err != nil {
		return nil, err
	}
	parts := strings.Split(pattern, "%")
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	re, err := regexp.Compile("(?is)^" + strings.Join(parts, ".*") + "$")
	if err != nil {
		return nil, fmt.Errorf("compile pattern: %w", err)
	}
	var out []entity.Student
	for _, s := range sortedValues(b.working.students) {
		if re.MatchString(s.Name) {
			out = append(out, s)
		}
	}
	return out, nil
}

// FindTurn implements store.Backend.
func (b *Backend) FindTurn(_ context.Context, classInstanceID int64, number int, typeID int64) (entity.Turn, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter("FindTurn"); err != nil {
		return entity.Turn{}, err
	}
	for _, t := range b.working.turns {
		if t.ClassInstance.ID == classInstanceID && t.Number == number && t.Type.ID == typeID {
			return t, nil
		}
	}
	return entity.Turn{}, store.ErrNotFound
}

// InsertTurn implements store.Backend.
func (b *Backend) InsertTurn(_ context.Context, turn entity.Turn) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter("InsertTurn"); err != nil {
		return 0, err
	}
	turn.ID = b.working.id()
	turn.ClassInstance = &entity.ClassInstance{ID: turn.ClassInstance.ID}
	turn.Type = &entity.TurnType{ID: turn.Type.ID}
	turn.Teachers = nil
	b.working.turns[turn.ID] = turn
	return turn.ID, nil
}

// UpdateTurn implements store.Backend.
func (b *Backend) UpdateTurn(_ context.Context, turn entity.Turn) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter("UpdateTurn"); err != nil {
		return err
	}
	if _, ok := b.working.turns[turn.ID]; !ok {
		return store.ErrNotFound
	}
	turn.ClassInstance = &entity.ClassInstance{ID: turn.ClassInstance.ID}
	turn.Type = &entity.TurnType{ID: turn.Type.ID}
	turn.Teachers = nil
	b.working.turns[turn.ID] = turn
	return nil
}

// InsertTeacher implements store.Backend.
func (b *Backend) InsertTeacher(_ context.Context, name string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter("InsertTeacher"); err != nil {
		return 0, err
	}
	id := b.working.id()
	b.working.teachers[id] = entity.Teacher{ID: id, Name: name}
	return id, nil
}

// ReplaceTurnTeachers implements store.Backend.
func (b *Backend) ReplaceTurnTeachers(_ context.Context, turnID int64, teacherIDs []int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter("ReplaceTurnTeachers"); err != nil {
		return err
	}
	for link := range b.working.turnTeachers {
		if link[0] == turnID {
			delete(b.working.turnTeachers, link)
		}
	}
	for _, teacherID := range teacherIDs {
		b.working.turnTeachers[pair{turnID, teacherID}] = struct{}{}
	}
	return nil
}

// LinkTurnStudent implements store.Backend. Existing links are left alone.
func (b *Backend) LinkTurnStudent(_ context.Context, turnID, studentID int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter("LinkTurnStudent"); err != nil {
		return err
	}
	b.working.turnStudents[pair{turnID, studentID}] = struct{}{}
	return nil
}

// InsertBuilding implements store.Backend.
func (b *Backend) InsertBuilding(_ context.Context, building entity.Building) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter("InsertBuilding"); err != nil {
		return 0, err
	}
	building.ID = b.working.id()
	building.Institution = institutionStub(building.Institution)
	b.working.buildings[building.ID] = building
	return building.ID, nil
}

// InsertClassroom implements store.Backend.
func (b *Backend) InsertClassroom(_ context.Context, classroom entity.Classroom) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter("InsertClassroom"); err != nil {
		return 0, err
	}
	classroom.ID = b.working.id()
	classroom.Building = &entity.Building{ID: classroom.Building.ID}
	b.working.classrooms[classroom.ID] = classroom
	return classroom.ID, nil
}

// ReplaceTurnInstances implements store.Backend.
func (b *Backend) ReplaceTurnInstances(_ context.Context, turnID int64, instances []entity.TurnInstance) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter("ReplaceTurnInstances"); err != nil {
		return err
	}
	rows := make([]entity.TurnInstance, 0, len(instances))
	for _, ti := range instances {
		ti.Turn = &entity.Turn{ID: turnID}
		if ti.Classroom != nil {
			ti.Classroom = &entity.Classroom{ID: ti.Classroom.ID}
		}
		rows = append(rows, ti)
	}
	b.working.turnInstances[turnID] = rows
	return nil
}

// InsertAdmission implements store.Backend.
func (b *Backend) InsertAdmission(_ context.Context, admission entity.Admission) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter("InsertAdmission"); err != nil {
		return err
	}
	admission.Course = courseStub(admission.Course)
	if admission.Student != nil {
		admission.Student = &entity.Student{Identity: entity.Identity{ID: admission.Student.ID}}
	}
	key := admissionKeyOf(admission)
	for i, stored := range b.working.admissions {
		if admissionKeyOf(stored) == key {
			b.working.admissions[i] = admission
			return nil
		}
	}
	b.working.admissions = append(b.working.admissions, admission)
	return nil
}

// admissionKey identifies an admission: the student when known, the name otherwise.
type admissionKey struct {
	course, student int64
	name            string
	phase, year     int
}

func admissionKeyOf(a entity.Admission) admissionKey {
	key := admissionKey{phase: a.Phase, year: a.Year}
	if a.Course != nil {
		key.course = a.Course.ID
	}
	if a.Student != nil {
		key.student = a.Student.ID
	} else {
		key.name = a.Name
	}
	return key
}

// InsertEnrollment implements store.Backend.
func (b *Backend) InsertEnrollment(_ context.Context, enrollment entity.Enrollment) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter("InsertEnrollment"); err != nil {
		return false, err
	}
	key := pair{enrollment.Student.ID, enrollment.ClassInstance.ID}
	if _, ok := b.working.enrollments[key]; ok {
		return false, nil
	}
	enrollment.Student = &entity.Student{Identity: entity.Identity{ID: key[0]}}
	enrollment.ClassInstance = &entity.ClassInstance{ID: key[1]}
	b.working.enrollments[key] = enrollment
	return true, nil
}

// InsertRun implements store.Backend.
func (b *Backend) InsertRun(_ context.Context, run store.Run) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter("InsertRun"); err != nil {
		return err
	}
	if _, ok := b.working.runs[run.ID]; ok {
		return fmt.Errorf("duplicate run %s", run.ID)
	}
	b.working.runs[run.ID] = run
	return nil
}

// FinishRun implements store.Backend.
func (b *Backend) FinishRun(_ context.Context, run store.Run) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter("FinishRun"); err != nil {
		return err
	}
	stored, ok := b.working.runs[run.ID]
	if !ok {
		return store.ErrNotFound
	}
	stored.FinishedAt = run.FinishedAt
	stored.Status = run.Status
	stored.ErrorMessage = run.ErrorMessage
	b.working.runs[run.ID] = stored
	return nil
}

// InsertFailure implements store.Backend.
func (b *Backend) InsertFailure(_ context.Context, failure store.Failure) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter("InsertFailure"); err != nil {
		return err
	}
	b.working.failures = append(b.working.failures, failure)
	return nil
}

// Commit publishes the working copy.
func (b *Backend) Commit(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter("Commit"); err != nil {
		return err
	}
	b.committed = b.working.clone()
	return nil
}

// Rollback restores the last committed state.
func (b *Backend) Rollback(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter("Rollback"); err != nil {
		return err
	}
	b.working = b.committed.clone()
	return nil
}
