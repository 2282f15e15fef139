package store

import (
	"context"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/clip-harvester/internal/clip"
	"github.com/JakeFAU/clip-harvester/internal/entity"
)

// UpsertStudent resolves a student by external id and name, scoped to the
// institution when one is known. A stored student under the same external id
// with a different name, or with a different abbreviation, is a consistency error.
// Abbreviation, course and institution are filled in when missing.
func (s *Store) UpsertStudent(ctx context.Context, in entity.Student) (*entity.Student, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertStudentLocked(ctx, in)
}

// AddStudent is UpsertStudent with an optional commit.
func (s *Store) AddStudent(ctx context.Context, in entity.Student, commit bool) (*entity.Student, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	student, _, err := s.upsertStudentLocked(ctx, in)
	if err != nil {
		return nil, err
	}
	if commit {
		if err := s.commitLocked(ctx); err != nil {
			return nil, err
		}
	}
	return student, nil
}

func (s *Store) upsertStudentLocked(ctx context.Context, in entity.Student) (*entity.Student, bool, error) {
	const op = "store.UpsertStudent"
	in.Name = strings.TrimSpace(in.Name)
	in.Abbreviation = strings.TrimSpace(in.Abbreviation)
	if in.Name == "" || in.ExternalID == "" {
		return nil, false, clip.RowError(op, "student %q without name or id", in.ExternalID)
	}
	if in.Institution != nil {
		inst := s.institutionByRef(in.Institution)
		if inst == nil {
			return nil, false, clip.UnknownReferenceError(op, "student "+in.ExternalID, institutionRef(in.Institution))
		}
		in.Institution = inst
	}
	if in.Course != nil {
		course := s.courseByRef(in.Course)
		if course == nil {
			return nil, false, clip.UnknownReferenceError(op, "student "+in.ExternalID, "course "+in.Course.ExternalID)
		}
		in.Course = course
		if in.Institution == nil {
			in.Institution = course.Institution
		}
	}

	candidates, err := s.backend.FindStudents(ctx, in.ExternalID)
	if err != nil {
		return nil, false, clip.PersistenceError(op, err)
	}
	var (
		matches []entity.Student
		others  []entity.Student
	)
	for _, c := range candidates {
		if in.Institution != nil && c.Institution != nil && c.Institution.ID != in.Institution.ID {
			continue
		}
		if c.Name == in.Name {
			matches = append(matches, c)
		} else {
			others = append(others, c)
		}
	}

	switch {
	case len(matches) > 1:
		return nil, false, clip.ConsistencyError(op, "student "+in.ExternalID, matches, in)
	case len(matches) == 0 && len(others) > 0:
		return nil, false, clip.ConsistencyError(op, "student "+in.ExternalID, others[0], in)
	case len(matches) == 0:
		id, err := s.backend.InsertStudent(ctx, in)
		if err != nil {
			return nil, false, s.rollbackLocked(ctx, op, err)
		}
		in.ID = id
		s.logger.Debug("student added", zap.Stringer("student", in))
		observe("student", true, true)
		return &in, true, nil
	}

	stored := matches[0]
	if in.Abbreviation != "" && stored.Abbreviation != "" && in.Abbreviation != stored.Abbreviation {
		return nil, false, clip.ConsistencyError(op, "student "+in.ExternalID, stored, in)
	}
	merged := stored
	changed := false
	if in.Abbreviation != "" && stored.Abbreviation == "" {
		merged.Abbreviation = in.Abbreviation
		changed = true
	}
	if in.Course != nil && (stored.Course == nil || stored.Course.ID != in.Course.ID) {
		merged.Course = in.Course
		changed = true
	} else if stored.Course != nil {
		merged.Course = s.coursesByID[stored.Course.ID]
	}
	if in.Institution != nil && (stored.Institution == nil || stored.Institution.ID != in.Institution.ID) {
		merged.Institution = in.Institution
		changed = true
	} else if stored.Institution != nil {
		merged.Institution = s.institutionsByID[stored.Institution.ID]
	}
	observe("student", false, changed)
	if !changed {
		return &merged, false, nil
	}
	if err := s.backend.UpdateStudent(ctx, merged); err != nil {
		return nil, false, s.rollbackLocked(ctx, op, err)
	}
	s.logger.Debug("student updated", zap.Stringer("student", merged))
	return &merged, true, nil
}

var unsafeSearch = regexp.MustCompile(`[^\p{L}\p{N}\s.-]`)

// FindStudents returns students whose name contains every word of query, in order.
func (s *Store) FindStudents(ctx context.Context, query string) ([]entity.Student, error) {
	words := strings.Fields(unsafeSearch.ReplaceAllString(query, ""))
	if len(words) == 0 {
		return nil, nil
	}
	pattern := "%" + strings.Join(words, "%") + "%"

	s.mu.Lock()
	defer s.mu.Unlock()
	students, err := s.backend.SearchStudents(ctx, pattern)
	if err != nil {
		return nil, clip.PersistenceError("store.FindStudents", err)
	}
	return students, nil
}
