package store

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/clip-harvester/internal/clip"
	"github.com/JakeFAU/clip-harvester/internal/entity"
)

// UpsertTurn resolves a turn by (class instance, number, type). Present fields of
// the incoming turn replace stored ones; teachers are created and linked as needed.
func (s *Store) UpsertTurn(ctx context.Context, in entity.Turn) (*entity.Turn, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertTurnLocked(ctx, in)
}

// AddTurn is UpsertTurn with an optional commit.
func (s *Store) AddTurn(ctx context.Context, in entity.Turn, commit bool) (*entity.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	turn, _, err := s.upsertTurnLocked(ctx, in)
	if err != nil {
		return nil, err
	}
	if commit {
		if err := s.commitLocked(ctx); err != nil {
			return nil, err
		}
	}
	return turn, nil
}

func (s *Store) upsertTurnLocked(ctx context.Context, in entity.Turn) (*entity.Turn, bool, error) {
	const op = "store.UpsertTurn"
	if in.ClassInstance == nil || in.ClassInstance.ID == 0 {
		return nil, false, clip.UnknownReferenceError(op, "turn", "unsaved class instance")
	}
	if in.Type == nil {
		return nil, false, clip.UnknownReferenceError(op, in.String(), "turn type <nil>")
	}
	turnType, ok := s.turnTypes[in.Type.Abbreviation]
	if !ok {
		return nil, false, clip.UnknownReferenceError(op, in.String(), "turn type "+in.Type.Abbreviation)
	}
	in.Type = turnType

	var (
		turn     *entity.Turn
		inserted bool
		changed  bool
	)
	stored, err := s.backend.FindTurn(ctx, in.ClassInstance.ID, in.Number, turnType.ID)
	switch {
	case err == nil:
		stored.ClassInstance = in.ClassInstance
		stored.Type = turnType
		merged, diff := mergeTurn(stored, in)
		if diff {
			if err := s.backend.UpdateTurn(ctx, merged); err != nil {
				return nil, false, s.rollbackLocked(ctx, op, err)
			}
			changed = true
		}
		turn = &merged
	case isNotFound(err):
		id, err := s.backend.InsertTurn(ctx, in)
		if err != nil {
			return nil, false, s.rollbackLocked(ctx, op, err)
		}
		in.ID = id
		turn = &in
		inserted, changed = true, true
	default:
		return nil, false, clip.PersistenceError(op, err)
	}

	// A nil list means the page did not report teachers; an empty one clears them.
	if in.Teachers != nil {
		teacherIDs := make([]int64, 0, len(in.Teachers))
		for _, name := range in.Teachers {
			teacherID, ok := s.teachers[name]
			if !ok {
				teacherID, err = s.backend.InsertTeacher(ctx, name)
				if err != nil {
					return nil, false, s.rollbackLocked(ctx, op, err)
				}
				s.teachers[name] = teacherID
			}
			teacherIDs = append(teacherIDs, teacherID)
		}
		if err := s.backend.ReplaceTurnTeachers(ctx, turn.ID, teacherIDs); err != nil {
			return nil, false, s.rollbackLocked(ctx, op, err)
		}
		turn.Teachers = in.Teachers
	}
	observe("turn", inserted, changed)
	return turn, changed, nil
}

func mergeTurn(stored, in entity.Turn) (entity.Turn, bool) {
	merged := stored
	changed := false
	mergeString := func(dst *string, src string) {
		if src != "" && src != *dst {
			*dst = src
			changed = true
		}
	}
	mergeInt := func(dst **int, src *int) {
		if src != nil && (*dst == nil || **dst != *src) {
			v := *src
			*dst = &v
			changed = true
		}
	}
	mergeString(&merged.Restrictions, in.Restrictions)
	mergeString(&merged.Routes, in.Routes)
	mergeString(&merged.State, in.State)
	mergeInt(&merged.Minutes, in.Minutes)
	mergeInt(&merged.Enrolled, in.Enrolled)
	mergeInt(&merged.Capacity, in.Capacity)
	return merged, changed
}

// AddTurnInstances destructively replaces the weekly occurrences of a turn and
// commits. Classrooms are resolved by building and name; unknown buildings and
// classrooms are created.
func (s *Store) AddTurnInstances(ctx context.Context, turn *entity.Turn, instances []entity.TurnInstance) error {
	const op = "store.AddTurnInstances"
	if turn == nil || turn.ID == 0 {
		return clip.UnknownReferenceError(op, "turn instances", "unsaved turn")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	resolved := make([]entity.TurnInstance, 0, len(instances))
	for _, ti := range instances {
		ti.Turn = turn
		if ti.Classroom != nil {
			classroom, err := s.classroomLocked(ctx, *ti.Classroom, turn)
			if err != nil {
				return err
			}
			ti.Classroom = classroom
		}
		resolved = append(resolved, ti)
	}
	if err := s.backend.ReplaceTurnInstances(ctx, turn.ID, resolved); err != nil {
		return s.rollbackLocked(ctx, op, err)
	}
	return s.commitLocked(ctx)
}

// ResolveWeekday maps an upstream weekday name to its id or fails with an unknown reference.
func (s *Store) ResolveWeekday(name string) (int64, error) {
	id, ok := s.WeekdayID(name)
	if !ok {
		return 0, clip.UnknownReferenceError("store.ResolveWeekday", "turn instance", "weekday "+name)
	}
	return id, nil
}

func (s *Store) classroomLocked(ctx context.Context, in entity.Classroom, turn *entity.Turn) (*entity.Classroom, error) {
	const op = "store.AddTurnInstances"
	if in.Building == nil || in.Building.Name == "" {
		return nil, clip.UnknownReferenceError(op, "classroom "+in.Name, "building <nil>")
	}
	inst := s.institutionByRef(in.Building.Institution)
	if inst == nil {
		inst = turnInstitution(turn)
	}
	var owner int64
	if inst != nil {
		owner = inst.ID
	}

	building, ok := s.buildings[namedKey{owner: owner, name: in.Building.Name}]
	if !ok {
		b := entity.Building{Name: in.Building.Name, Institution: inst}
		id, err := s.backend.InsertBuilding(ctx, b)
		if err != nil {
			return nil, s.rollbackLocked(ctx, op, fmt.Errorf("insert building %q: %w", b.Name, err))
		}
		b.ID = id
		building = &b
		s.cacheBuilding(building)
		s.logger.Info("building added", zap.String("building", b.Name))
	}

	key := namedKey{owner: building.ID, name: in.Name}
	if classroom, ok := s.classrooms[key]; ok {
		return classroom, nil
	}
	c := entity.Classroom{Name: in.Name, Building: building}
	id, err := s.backend.InsertClassroom(ctx, c)
	if err != nil {
		return nil, s.rollbackLocked(ctx, op, fmt.Errorf("insert classroom %q: %w", c.Name, err))
	}
	c.ID = id
	s.classrooms[key] = &c
	return &c, nil
}

func turnInstitution(turn *entity.Turn) *entity.Institution {
	if turn == nil || turn.ClassInstance == nil || turn.ClassInstance.Class == nil {
		return nil
	}
	dept := turn.ClassInstance.Class.Department
	if dept == nil {
		return nil
	}
	return dept.Institution
}

// AddTurnStudents upserts the students of a turn, links them and commits once.
// Students with unusable rows are skipped and returned joined. Any other
// reconciliation error stops the batch: what was linked so far is committed
// and the error is returned on its own.
func (s *Store) AddTurnStudents(ctx context.Context, turn *entity.Turn, students []entity.Student) (int, error) {
	const op = "store.AddTurnStudents"
	if turn == nil || turn.ID == 0 {
		return 0, clip.UnknownReferenceError(op, "turn students", "unsaved turn")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		linked   int
		itemErrs []error
	)
	for _, in := range students {
		student, _, err := s.upsertStudentLocked(ctx, in)
		switch {
		case err == nil:
		case clip.IsKind(err, clip.KindRow):
			itemErrs = append(itemErrs, err)
			continue
		case clip.IsKind(err, clip.KindPersistence):
			return linked, err
		default:
			if cerr := s.commitLocked(ctx); cerr != nil {
				return 0, cerr
			}
			return linked, err
		}
		if err := s.backend.LinkTurnStudent(ctx, turn.ID, student.ID); err != nil {
			return linked, s.rollbackLocked(ctx, op, err)
		}
		linked++
	}
	if err := s.commitLocked(ctx); err != nil {
		return 0, err
	}
	return linked, errors.Join(itemErrs...)
}
