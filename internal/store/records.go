package store

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/JakeFAU/clip-harvester/internal/clip"
	"github.com/JakeFAU/clip-harvester/internal/entity"
)

// AddAdmissions stores a batch of admissions and commits once. Students with an
// external id are upserted and linked, and the raw name is then dropped.
func (s *Store) AddAdmissions(ctx context.Context, admissions []entity.Admission) (int, error) {
	const op = "store.AddAdmissions"
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		added    int
		itemErrs []error
	)
	for _, a := range admissions {
		if !entity.ValidPhase(a.Phase) {
			itemErrs = append(itemErrs, clip.RowError(op, "admission phase %d out of range", a.Phase))
			continue
		}
		course := s.courseByRef(a.Course)
		if course == nil {
			itemErrs = append(itemErrs, clip.UnknownReferenceError(op, "admission", "course"))
			continue
		}
		a.Course = course
		if a.Student != nil {
			if a.Student.ID == 0 {
				student, _, err := s.upsertStudentLocked(ctx, *a.Student)
				if err != nil {
					if clip.IsKind(err, clip.KindPersistence) {
						return added, err
					}
					itemErrs = append(itemErrs, err)
					continue
				}
				a.Student = student
			}
			a.Name = ""
		}
		if a.CheckedAt.IsZero() {
			a.CheckedAt = s.clock.Now()
		}
		if err := s.backend.InsertAdmission(ctx, a); err != nil {
			return added, s.rollbackLocked(ctx, op, err)
		}
		added++
	}
	if err := s.commitLocked(ctx); err != nil {
		return 0, err
	}
	return added, errors.Join(itemErrs...)
}

// AddEnrollments stores a batch of enrollments and commits once. Enrollments that
// already exist are skipped, not merged.
func (s *Store) AddEnrollments(ctx context.Context, enrollments []entity.Enrollment) (inserted, skipped int, err error) {
	const op = "store.AddEnrollments"
	s.mu.Lock()
	defer s.mu.Unlock()

	var itemErrs []error
	for _, e := range enrollments {
		if e.Student == nil || e.Student.ID == 0 || e.ClassInstance == nil || e.ClassInstance.ID == 0 {
			itemErrs = append(itemErrs, clip.UnknownReferenceError(op, "enrollment", "unsaved student or class instance"))
			continue
		}
		ok, err := s.backend.InsertEnrollment(ctx, e)
		if err != nil {
			return inserted, skipped, s.rollbackLocked(ctx, op, err)
		}
		if !ok {
			skipped++
			s.logger.Debug("enrollment skipped",
				zap.String("student", e.Student.ExternalID),
				zap.Int64("class_instance", e.ClassInstance.ID))
			continue
		}
		inserted++
	}
	if err := s.commitLocked(ctx); err != nil {
		return 0, 0, err
	}
	return inserted, skipped, errors.Join(itemErrs...)
}

// StartRun records the beginning of a harvest run.
func (s *Store) StartRun(ctx context.Context, run Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if run.StartedAt.IsZero() {
		run.StartedAt = s.clock.Now()
	}
	run.Status = RunRunning
	if err := s.backend.InsertRun(ctx, run); err != nil {
		return s.rollbackLocked(ctx, "store.StartRun", err)
	}
	return s.commitLocked(ctx)
}

// FinishRun records the outcome of a harvest run. A nil runErr marks success.
func (s *Store) FinishRun(ctx context.Context, run Run, runErr error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	finished := s.clock.Now()
	run.FinishedAt = &finished
	run.Status = RunSuccess
	if runErr != nil {
		msg := runErr.Error()
		run.Status = RunError
		run.ErrorMessage = &msg
	}
	if err := s.backend.FinishRun(ctx, run); err != nil {
		return s.rollbackLocked(ctx, "store.FinishRun", err)
	}
	return s.commitLocked(ctx)
}

// RecordFailure appends a failed work item to the ledger and commits.
func (s *Store) RecordFailure(ctx context.Context, failure Failure) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if failure.OccurredAt.IsZero() {
		failure.OccurredAt = s.clock.Now()
	}
	if err := s.backend.InsertFailure(ctx, failure); err != nil {
		return s.rollbackLocked(ctx, "store.RecordFailure", err)
	}
	return s.commitLocked(ctx)
}
