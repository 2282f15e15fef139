package store

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/clip-harvester/internal/clip"
	"github.com/JakeFAU/clip-harvester/internal/entity"
)

// UpsertInstitution inserts an unknown institution or merges a known one. The
// abbreviation is its identity; the name and activity range are mergeable.
func (s *Store) UpsertInstitution(ctx context.Context, in entity.Institution) (*entity.Institution, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertInstitutionLocked(ctx, in)
}

func (s *Store) upsertInstitutionLocked(ctx context.Context, in entity.Institution) (*entity.Institution, bool, error) {
	const op = "store.UpsertInstitution"
	stored, ok := s.institutions[in.ExternalID]
	if !ok {
		if in.Name == "" {
			in.Name = in.Abbreviation
		}
		id, err := s.backend.InsertInstitution(ctx, in)
		if err != nil {
			return nil, false, s.rollbackLocked(ctx, op, err)
		}
		in.ID = id
		s.cacheInstitution(&in)
		s.logger.Info("institution added", zap.Stringer("institution", in))
		observe("institution", true, true)
		return &in, true, nil
	}

	if in.Abbreviation != "" && in.Abbreviation != stored.Abbreviation {
		return nil, false, clip.ConsistencyError(op, "institution "+in.ExternalID, *stored, in)
	}
	merged := *stored
	changed := false
	if in.Name != "" && in.Name != in.Abbreviation && in.Name != stored.Name {
		merged.Name = in.Name
		changed = true
	}
	if years, widened := stored.Years.Merge(in.Years); widened {
		merged.Years = years
		changed = true
	}
	observe("institution", false, changed)
	if !changed {
		return stored, false, nil
	}
	if err := s.backend.UpdateInstitution(ctx, merged); err != nil {
		return nil, false, s.rollbackLocked(ctx, op, err)
	}
	s.cacheInstitution(&merged)
	s.logger.Info("institution updated", zap.Stringer("from", *stored), zap.Stringer("to", merged))
	return &merged, true, nil
}

// UpsertDepartment inserts or merges a department. The name is its identity.
func (s *Store) UpsertDepartment(ctx context.Context, in entity.Department) (*entity.Department, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertDepartmentLocked(ctx, in)
}

func (s *Store) upsertDepartmentLocked(ctx context.Context, in entity.Department) (*entity.Department, bool, error) {
	const op = "store.UpsertDepartment"
	inst := s.institutionByRef(in.Institution)
	if inst == nil {
		return nil, false, clip.UnknownReferenceError(op, "department "+in.ExternalID, institutionRef(in.Institution))
	}
	in.Institution = inst

	stored, ok := s.departments[scopedKey{scope: inst.ExternalID, ext: in.ExternalID}]
	if !ok {
		id, err := s.backend.InsertDepartment(ctx, in)
		if err != nil {
			return nil, false, s.rollbackLocked(ctx, op, err)
		}
		in.ID = id
		s.cacheDepartment(&in)
		s.logger.Info("department added", zap.Stringer("department", in))
		observe("department", true, true)
		return &in, true, nil
	}

	if in.Name != stored.Name {
		return nil, false, clip.ConsistencyError(op, "department "+in.ExternalID, *stored, in)
	}
	years, widened := stored.Years.Merge(in.Years)
	observe("department", false, widened)
	if !widened {
		return stored, false, nil
	}
	merged := *stored
	merged.Years = years
	if err := s.backend.UpdateDepartment(ctx, merged); err != nil {
		return nil, false, s.rollbackLocked(ctx, op, err)
	}
	s.cacheDepartment(&merged)
	s.logger.Info("department updated", zap.Stringer("from", *stored), zap.Stringer("to", merged))
	return &merged, true, nil
}

// UpsertDegree inserts an unknown degree. Degrees never change once seen.
func (s *Store) UpsertDegree(ctx context.Context, in entity.Degree) (*entity.Degree, bool, error) {
	const op = "store.UpsertDegree"
	s.mu.Lock()
	defer s.mu.Unlock()

	if stored, ok := s.degrees[in.ExternalID]; ok {
		if in.Name != "" && in.Name != stored.Name {
			return nil, false, clip.ConsistencyError(op, "degree "+in.ExternalID, *stored, in)
		}
		observe("degree", false, false)
		return stored, false, nil
	}
	id, err := s.backend.InsertDegree(ctx, in)
	if err != nil {
		return nil, false, s.rollbackLocked(ctx, op, err)
	}
	in.ID = id
	s.cacheDegree(&in)
	observe("degree", true, true)
	return &in, true, nil
}

// UpsertCourse inserts or merges a course. The name is its identity; abbreviation,
// degree and activity range are filled in or widened.
func (s *Store) UpsertCourse(ctx context.Context, in entity.Course) (*entity.Course, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertCourseLocked(ctx, in)
}

func (s *Store) upsertCourseLocked(ctx context.Context, in entity.Course) (*entity.Course, bool, error) {
	const op = "store.UpsertCourse"
	inst := s.institutionByRef(in.Institution)
	if inst == nil {
		return nil, false, clip.UnknownReferenceError(op, "course "+in.ExternalID, institutionRef(in.Institution))
	}
	in.Institution = inst
	if in.Degree != nil {
		degree := s.degreesByID[in.Degree.ID]
		if degree == nil {
			degree = s.degrees[in.Degree.ExternalID]
		}
		if degree == nil {
			return nil, false, clip.UnknownReferenceError(op, "course "+in.ExternalID, "degree "+in.Degree.ExternalID)
		}
		in.Degree = degree
	}

	stored, ok := s.courses[scopedKey{scope: inst.ExternalID, ext: in.ExternalID}]
	if !ok {
		id, err := s.backend.InsertCourse(ctx, in)
		if err != nil {
			return nil, false, s.rollbackLocked(ctx, op, err)
		}
		in.ID = id
		s.cacheCourse(&in)
		s.logger.Info("course added", zap.Stringer("course", in))
		observe("course", true, true)
		return &in, true, nil
	}

	if in.Name != stored.Name {
		return nil, false, clip.ConsistencyError(op, "course "+in.ExternalID, *stored, in)
	}
	merged := *stored
	changed := false
	if in.Abbreviation != "" && in.Abbreviation != stored.Abbreviation {
		merged.Abbreviation = in.Abbreviation
		changed = true
	}
	if in.Degree != nil && (stored.Degree == nil || stored.Degree.ID != in.Degree.ID) {
		merged.Degree = in.Degree
		changed = true
	}
	if years, widened := stored.Years.Merge(in.Years); widened {
		merged.Years = years
		changed = true
	}
	observe("course", false, changed)
	if !changed {
		return stored, false, nil
	}
	if err := s.backend.UpdateCourse(ctx, merged); err != nil {
		return nil, false, s.rollbackLocked(ctx, op, err)
	}
	s.cacheCourse(&merged)
	s.logger.Info("course updated", zap.Stringer("from", *stored), zap.Stringer("to", merged))
	return &merged, true, nil
}

// AddInstitutions upserts a batch, commits once and reloads the caches. It returns
// how many institutions were inserted or changed. Item-level failures do not stop
// the batch and are returned joined after the commit.
func (s *Store) AddInstitutions(ctx context.Context, institutions []entity.Institution) (int, error) {
	return addBatch(ctx, s, "institutions", institutions, func(in entity.Institution) (bool, error) {
		_, changed, err := s.upsertInstitutionLocked(ctx, in)
		return changed, err
	})
}

// AddDepartments upserts a batch, commits once and reloads the caches.
func (s *Store) AddDepartments(ctx context.Context, departments []entity.Department) (int, error) {
	return addBatch(ctx, s, "departments", departments, func(in entity.Department) (bool, error) {
		_, changed, err := s.upsertDepartmentLocked(ctx, in)
		return changed, err
	})
}

// AddCourses upserts a batch, commits once and reloads the caches.
func (s *Store) AddCourses(ctx context.Context, courses []entity.Course) (int, error) {
	return addBatch(ctx, s, "courses", courses, func(in entity.Course) (bool, error) {
		_, changed, err := s.upsertCourseLocked(ctx, in)
		return changed, err
	})
}

func addBatch[T any](ctx context.Context, s *Store, kind string, items []T, upsert func(T) (bool, error)) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		changed  int
		itemErrs []error
	)
	for _, item := range items {
		ok, err := upsert(item)
		if err != nil {
			if clip.IsKind(err, clip.KindPersistence) {
				return changed, err
			}
			itemErrs = append(itemErrs, err)
			continue
		}
		if ok {
			changed++
		}
	}
	if err := s.commitLocked(ctx); err != nil {
		return 0, err
	}
	if changed > 0 {
		s.logger.Info("batch stored", zap.String("kind", kind), zap.Int("records", len(items)), zap.Int("changed", changed))
	}
	if err := s.loadCachesLocked(ctx); err != nil {
		return changed, fmt.Errorf("reload caches after %s: %w", kind, err)
	}
	return changed, errors.Join(itemErrs...)
}

func institutionRef(ref *entity.Institution) string {
	if ref == nil {
		return "institution <nil>"
	}
	return "institution " + ref.ExternalID
}
