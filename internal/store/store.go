package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/clip-harvester/internal/clip"
	"github.com/JakeFAU/clip-harvester/internal/clock/system"
	"github.com/JakeFAU/clip-harvester/internal/entity"
	"github.com/JakeFAU/clip-harvester/internal/metrics"
)

// DefaultClassCacheLimit bounds the partial class cache before it is cleared.
const DefaultClassCacheLimit = 10000

type scopedKey struct {
	scope string
	ext   string
}

type classKey struct {
	department int64
	ext        string
}

type namedKey struct {
	owner int64
	name  string
}

// Store caches reference data and reconciles incoming records against the backend.
type Store struct {
	mu      sync.Mutex
	backend Backend
	logger  *zap.Logger
	clock   clip.Clock

	institutions       map[string]*entity.Institution
	institutionsByID   map[int64]*entity.Institution
	departments        map[scopedKey]*entity.Department
	departmentsByID    map[int64]*entity.Department
	degrees            map[string]*entity.Degree
	degreesByID        map[int64]*entity.Degree
	periods            map[entity.PeriodKey]*entity.Period
	periodsByID        map[int64]*entity.Period
	courses            map[scopedKey]*entity.Course
	coursesByID        map[int64]*entity.Course
	courseAbbreviation map[string][]*entity.Course
	weekdays           map[string]int64
	turnTypes          map[string]*entity.TurnType
	turnTypesByID      map[int64]*entity.TurnType
	teachers           map[string]int64
	buildings          map[namedKey]*entity.Building
	buildingsByID      map[int64]*entity.Building
	classrooms         map[namedKey]*entity.Classroom

	classes          map[classKey]*entity.Class
	classCacheLimit  int
	classCacheClears int
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger. Nil falls back to a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClassCacheLimit overrides DefaultClassCacheLimit.
func WithClassCacheLimit(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.classCacheLimit = n
		}
	}
}

// WithClock sets the clock used for failure and run timestamps.
func WithClock(clock clip.Clock) Option {
	return func(s *Store) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// New constructs a Store with empty caches. Call LoadCaches before use.
func New(backend Backend, opts ...Option) *Store {
	s := &Store{
		backend:         backend,
		logger:          zap.NewNop(),
		clock:           system.New(),
		classCacheLimit: DefaultClassCacheLimit,
		classes:         make(map[classKey]*entity.Class),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("store")
	s.resetReferenceCaches()
	return s
}

func (s *Store) resetReferenceCaches() {
	s.institutions = make(map[string]*entity.Institution)
	s.institutionsByID = make(map[int64]*entity.Institution)
	s.departments = make(map[scopedKey]*entity.Department)
	s.departmentsByID = make(map[int64]*entity.Department)
	s.degrees = make(map[string]*entity.Degree)
	s.degreesByID = make(map[int64]*entity.Degree)
	s.periods = make(map[entity.PeriodKey]*entity.Period)
	s.periodsByID = make(map[int64]*entity.Period)
	s.courses = make(map[scopedKey]*entity.Course)
	s.coursesByID = make(map[int64]*entity.Course)
	s.courseAbbreviation = make(map[string][]*entity.Course)
	s.weekdays = make(map[string]int64)
	s.turnTypes = make(map[string]*entity.TurnType)
	s.turnTypesByID = make(map[int64]*entity.TurnType)
	s.teachers = make(map[string]int64)
	s.buildings = make(map[namedKey]*entity.Building)
	s.buildingsByID = make(map[int64]*entity.Building)
	s.classrooms = make(map[namedKey]*entity.Classroom)
}

// LoadCaches rebuilds every full cache from the backend.
func (s *Store) LoadCaches(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadCachesLocked(ctx)
}

func (s *Store) loadCachesLocked(ctx context.Context) error {
	s.resetReferenceCaches()

	institutions, err := s.backend.LoadInstitutions(ctx)
	if err != nil {
		return clip.PersistenceError("store.LoadCaches", fmt.Errorf("load institutions: %w", err))
	}
	for i := range institutions {
		s.cacheInstitution(&institutions[i])
	}

	degrees, err := s.backend.LoadDegrees(ctx)
	if err != nil {
		return clip.PersistenceError("store.LoadCaches", fmt.Errorf("load degrees: %w", err))
	}
	for i := range degrees {
		s.cacheDegree(&degrees[i])
	}

	periods, err := s.backend.LoadPeriods(ctx)
	if err != nil {
		return clip.PersistenceError("store.LoadCaches", fmt.Errorf("load periods: %w", err))
	}
	for i := range periods {
		p := &periods[i]
		s.periods[p.Key()] = p
		s.periodsByID[p.ID] = p
	}

	departments, err := s.backend.LoadDepartments(ctx)
	if err != nil {
		return clip.PersistenceError("store.LoadCaches", fmt.Errorf("load departments: %w", err))
	}
	for i := range departments {
		d := &departments[i]
		if d.Institution = s.institutionByRef(d.Institution); d.Institution == nil {
			s.logger.Warn("department without institution", zap.String("department", d.ExternalID))
			continue
		}
		s.cacheDepartment(d)
	}

	courses, err := s.backend.LoadCourses(ctx)
	if err != nil {
		return clip.PersistenceError("store.LoadCaches", fmt.Errorf("load courses: %w", err))
	}
	for i := range courses {
		c := &courses[i]
		if c.Institution = s.institutionByRef(c.Institution); c.Institution == nil {
			s.logger.Warn("course without institution", zap.String("course", c.ExternalID))
			continue
		}
		if c.Degree != nil {
			c.Degree = s.degreesByID[c.Degree.ID]
		}
		s.cacheCourse(c)
	}

	weekdays, err := s.backend.LoadWeekdays(ctx)
	if err != nil {
		return clip.PersistenceError("store.LoadCaches", fmt.Errorf("load weekdays: %w", err))
	}
	for _, w := range weekdays {
		s.weekdays[w.Name] = w.ID
	}

	turnTypes, err := s.backend.LoadTurnTypes(ctx)
	if err != nil {
		return clip.PersistenceError("store.LoadCaches", fmt.Errorf("load turn types: %w", err))
	}
	for i := range turnTypes {
		tt := &turnTypes[i]
		s.turnTypes[tt.Abbreviation] = tt
		s.turnTypesByID[tt.ID] = tt
	}

	teachers, err := s.backend.LoadTeachers(ctx)
	if err != nil {
		return clip.PersistenceError("store.LoadCaches", fmt.Errorf("load teachers: %w", err))
	}
	for _, t := range teachers {
		s.teachers[t.Name] = t.ID
	}

	buildings, err := s.backend.LoadBuildings(ctx)
	if err != nil {
		return clip.PersistenceError("store.LoadCaches", fmt.Errorf("load buildings: %w", err))
	}
	for i := range buildings {
		b := &buildings[i]
		b.Institution = s.institutionByRef(b.Institution)
		s.cacheBuilding(b)
	}

	classrooms, err := s.backend.LoadClassrooms(ctx)
	if err != nil {
		return clip.PersistenceError("store.LoadCaches", fmt.Errorf("load classrooms: %w", err))
	}
	for i := range classrooms {
		c := &classrooms[i]
		if c.Building == nil || s.buildingsByID[c.Building.ID] == nil {
			continue
		}
		c.Building = s.buildingsByID[c.Building.ID]
		s.classrooms[namedKey{owner: c.Building.ID, name: c.Name}] = c
	}

	s.logger.Debug("caches loaded",
		zap.Int("institutions", len(s.institutions)),
		zap.Int("departments", len(s.departments)),
		zap.Int("courses", len(s.courses)),
		zap.Int("periods", len(s.periods)),
		zap.Int("teachers", len(s.teachers)),
	)
	return nil
}

func (s *Store) cacheInstitution(inst *entity.Institution) {
	s.institutions[inst.ExternalID] = inst
	s.institutionsByID[inst.ID] = inst
}

func (s *Store) cacheDepartment(d *entity.Department) {
	s.departments[scopedKey{scope: d.Institution.ExternalID, ext: d.ExternalID}] = d
	s.departmentsByID[d.ID] = d
}

func (s *Store) cacheDegree(d *entity.Degree) {
	s.degrees[d.ExternalID] = d
	s.degreesByID[d.ID] = d
}

func (s *Store) cacheCourse(c *entity.Course) {
	if old := s.coursesByID[c.ID]; old != nil && old.Abbreviation != "" {
		s.courseAbbreviation[old.Abbreviation] = removeCourse(s.courseAbbreviation[old.Abbreviation], old.ID)
		if len(s.courseAbbreviation[old.Abbreviation]) == 0 {
			delete(s.courseAbbreviation, old.Abbreviation)
		}
	}
	s.courses[scopedKey{scope: c.Institution.ExternalID, ext: c.ExternalID}] = c
	s.coursesByID[c.ID] = c
	if c.Abbreviation != "" {
		s.courseAbbreviation[c.Abbreviation] = append(s.courseAbbreviation[c.Abbreviation], c)
	}
}

func removeCourse(list []*entity.Course, id int64) []*entity.Course {
	out := list[:0:0]
	for _, c := range list {
		if c.ID != id {
			out = append(out, c)
		}
	}
	return out
}

func (s *Store) cacheBuilding(b *entity.Building) {
	var owner int64
	if b.Institution != nil {
		owner = b.Institution.ID
	}
	s.buildings[namedKey{owner: owner, name: b.Name}] = b
	s.buildingsByID[b.ID] = b
}

// institutionByRef resolves a reference by internal id, then by external id.
func (s *Store) institutionByRef(ref *entity.Institution) *entity.Institution {
	if ref == nil {
		return nil
	}
	if ref.ID != 0 {
		if inst, ok := s.institutionsByID[ref.ID]; ok {
			return inst
		}
	}
	if ref.ExternalID != "" {
		return s.institutions[ref.ExternalID]
	}
	return nil
}

func (s *Store) departmentByRef(ref *entity.Department) *entity.Department {
	if ref == nil {
		return nil
	}
	if ref.ID != 0 {
		if d, ok := s.departmentsByID[ref.ID]; ok {
			return d
		}
	}
	if ref.Institution == nil {
		return nil
	}
	return s.departments[scopedKey{scope: ref.Institution.ExternalID, ext: ref.ExternalID}]
}

func (s *Store) courseByRef(ref *entity.Course) *entity.Course {
	if ref == nil {
		return nil
	}
	if ref.ID != 0 {
		if c, ok := s.coursesByID[ref.ID]; ok {
			return c
		}
	}
	if ref.Institution == nil {
		return nil
	}
	return s.courses[scopedKey{scope: ref.Institution.ExternalID, ext: ref.ExternalID}]
}

func (s *Store) periodByRef(ref *entity.Period) *entity.Period {
	if ref == nil {
		return nil
	}
	if ref.ID != 0 {
		if p, ok := s.periodsByID[ref.ID]; ok {
			return p
		}
	}
	return s.periods[ref.Key()]
}

// Commit makes pending writes durable. On failure the unit of work is rolled
// back and the full caches are reloaded so no unpersisted record stays visible.
func (s *Store) Commit(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commitLocked(ctx)
}

func (s *Store) commitLocked(ctx context.Context) error {
	err := s.backend.Commit(ctx)
	if err == nil {
		return nil
	}
	s.logger.Error("commit failed, rolling back", zap.Error(err))
	if rbErr := s.backend.Rollback(ctx); rbErr != nil {
		s.logger.Error("rollback failed", zap.Error(rbErr))
	}
	s.classes = make(map[classKey]*entity.Class)
	if loadErr := s.loadCachesLocked(ctx); loadErr != nil {
		s.logger.Error("cache reload after rollback failed", zap.Error(loadErr))
	}
	return clip.PersistenceError("store.Commit", err)
}

// rollbackLocked discards pending writes after a failed statement.
func (s *Store) rollbackLocked(ctx context.Context, op string, err error) error {
	if rbErr := s.backend.Rollback(ctx); rbErr != nil {
		s.logger.Error("rollback failed", zap.String("op", op), zap.Error(rbErr))
	}
	s.classes = make(map[classKey]*entity.Class)
	if loadErr := s.loadCachesLocked(ctx); loadErr != nil {
		s.logger.Error("cache reload after rollback failed", zap.Error(loadErr))
	}
	return clip.PersistenceError(op, err)
}

// Institutions returns every cached institution ordered by external id.
func (s *Store) Institutions() []*entity.Institution {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*entity.Institution, 0, len(s.institutions))
	for _, inst := range s.institutions {
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExternalID < out[j].ExternalID })
	return out
}

// Institution looks an institution up by external id.
func (s *Store) Institution(externalID string) (*entity.Institution, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.institutions[externalID]
	return inst, ok
}

// Departments returns every cached department ordered by internal id.
func (s *Store) Departments() []*entity.Department {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*entity.Department, 0, len(s.departments))
	for _, d := range s.departments {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Department looks a department up by institution and department external ids.
func (s *Store) Department(institution, externalID string) (*entity.Department, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.departments[scopedKey{scope: institution, ext: externalID}]
	return d, ok
}

// Degrees returns every cached degree ordered by external id.
func (s *Store) Degrees() []*entity.Degree {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*entity.Degree, 0, len(s.degrees))
	for _, d := range s.degrees {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExternalID < out[j].ExternalID })
	return out
}

// Period looks a period up by type letter and stage.
func (s *Store) Period(letter string, stage int) (*entity.Period, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.periods[entity.PeriodKey{Letter: letter, Stage: stage}]
	return p, ok
}

// PeriodsForMonth returns the periods whose month range contains month.
func (s *Store) PeriodsForMonth(month time.Month) []*entity.Period {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*entity.Period
	for _, p := range s.periods {
		if p.InMonth(month) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Course looks a course up by institution and course external ids.
func (s *Store) Course(institution, externalID string) (*entity.Course, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.courses[scopedKey{scope: institution, ext: externalID}]
	return c, ok
}

// Courses returns every cached course of an institution.
func (s *Store) Courses(institution string) []*entity.Course {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*entity.Course
	for key, c := range s.courses {
		if key.scope == institution {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CoursesByAbbreviation returns the candidates for an abbreviation, trying the full
// abbreviation first and then the part before a slash.
func (s *Store) CoursesByAbbreviation(abbreviation string) []*entity.Course {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.coursesByAbbreviationLocked(abbreviation)
}

func (s *Store) coursesByAbbreviationLocked(abbreviation string) []*entity.Course {
	if matches, ok := s.courseAbbreviation[abbreviation]; ok {
		return append([]*entity.Course(nil), matches...)
	}
	short, _, _ := strings.Cut(abbreviation, "/")
	if matches, ok := s.courseAbbreviation[short]; ok {
		return append([]*entity.Course(nil), matches...)
	}
	return nil
}

// CourseByAbbreviation disambiguates abbreviation candidates by year. It returns
// nil when nothing matches and a consistency error when several match and year is 0.
func (s *Store) CourseByAbbreviation(abbreviation string, year int) (*entity.Course, error) {
	candidates := s.CoursesByAbbreviation(abbreviation)
	switch len(candidates) {
	case 0:
		return nil, nil
	case 1:
		return candidates[0], nil
	}
	if year == 0 {
		return nil, clip.ConsistencyError("store.CourseByAbbreviation", "course "+abbreviation, candidates, "year unspecified")
	}
	for _, c := range candidates {
		if c.Years.Contains(year) {
			return c, nil
		}
	}
	return nil, nil
}

// TurnType looks a turn type up by abbreviation.
func (s *Store) TurnType(abbreviation string) (*entity.TurnType, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tt, ok := s.turnTypes[abbreviation]
	return tt, ok
}

// WeekdayID resolves an upstream weekday name. Exact names win; otherwise the
// part before the first '-' is matched case-insensitively against known names.
func (s *Store) WeekdayID(name string) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.weekdayIDLocked(name)
}

func (s *Store) weekdayIDLocked(name string) (int64, bool) {
	if id, ok := s.weekdays[name]; ok {
		return id, true
	}
	prefix, _, _ := strings.Cut(name, "-")
	prefix = strings.ToLower(strings.TrimSpace(prefix))
	if prefix == "" {
		return 0, false
	}
	for known, id := range s.weekdays {
		if strings.Contains(strings.ToLower(known), prefix) {
			return id, true
		}
	}
	return 0, false
}

// Stats is a snapshot of cache sizes.
type Stats struct {
	Institutions     int `json:"institutions"`
	Departments      int `json:"departments"`
	Degrees          int `json:"degrees"`
	Periods          int `json:"periods"`
	Courses          int `json:"courses"`
	TurnTypes        int `json:"turn_types"`
	Teachers         int `json:"teachers"`
	Buildings        int `json:"buildings"`
	Classrooms       int `json:"classrooms"`
	ClassCache       int `json:"class_cache"`
	ClassCacheClears int `json:"class_cache_clears"`
}

// Stats reports cache sizes.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Institutions:     len(s.institutions),
		Departments:      len(s.departments),
		Degrees:          len(s.degrees),
		Periods:          len(s.periods),
		Courses:          len(s.courses),
		TurnTypes:        len(s.turnTypes),
		Teachers:         len(s.teachers),
		Buildings:        len(s.buildings),
		Classrooms:       len(s.classrooms),
		ClassCache:       len(s.classes),
		ClassCacheClears: s.classCacheClears,
	}
}

func observe(entityName string, inserted, changed bool) {
	switch {
	case inserted:
		metrics.ObserveUpsert(entityName, "inserted")
	case changed:
		metrics.ObserveUpsert(entityName, "updated")
	default:
		metrics.ObserveUpsert(entityName, "unchanged")
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
