package store

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/clip-harvester/internal/clip"
	"github.com/JakeFAU/clip-harvester/internal/entity"
	"github.com/JakeFAU/clip-harvester/internal/metrics"
)

// UpsertClass resolves a class by (department, external id), inserting it when
// unknown. The name is its identity. Lookups go through the partial class cache.
func (s *Store) UpsertClass(ctx context.Context, in entity.Class) (*entity.Class, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertClassLocked(ctx, in)
}

// AddClass is UpsertClass with an optional commit.
func (s *Store) AddClass(ctx context.Context, in entity.Class, commit bool) (*entity.Class, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	class, _, err := s.upsertClassLocked(ctx, in)
	if err != nil {
		return nil, err
	}
	if commit {
		if err := s.commitLocked(ctx); err != nil {
			return nil, err
		}
	}
	return class, nil
}

func (s *Store) upsertClassLocked(ctx context.Context, in entity.Class) (*entity.Class, bool, error) {
	const op = "store.UpsertClass"
	dept := s.departmentByRef(in.Department)
	if dept == nil {
		return nil, false, clip.UnknownReferenceError(op, "class "+in.ExternalID, departmentRef(in.Department))
	}
	in.Department = dept
	key := classKey{department: dept.ID, ext: in.ExternalID}

	stored, ok := s.classes[key]
	if !ok {
		found, err := s.backend.FindClass(ctx, dept.ID, in.ExternalID)
		switch {
		case err == nil:
			found.Department = dept
			stored = &found
			s.cacheClass(key, stored)
		case isNotFound(err):
		default:
			return nil, false, clip.PersistenceError(op, err)
		}
	}

	if stored != nil {
		if stored.Name != in.Name {
			return nil, false, clip.ConsistencyError(op, "class "+in.ExternalID, *stored, in)
		}
		observe("class", false, false)
		return stored, false, nil
	}

	id, err := s.backend.InsertClass(ctx, in)
	if err != nil {
		return nil, false, s.rollbackLocked(ctx, op, err)
	}
	in.ID = id
	s.cacheClass(key, &in)
	s.logger.Debug("class added", zap.Stringer("class", in))
	observe("class", true, true)
	return &in, true, nil
}

// cacheClass inserts into the partial cache, clearing it wholesale once it grows past the limit.
func (s *Store) cacheClass(key classKey, class *entity.Class) {
	s.classes[key] = class
	if len(s.classes) > s.classCacheLimit {
		s.logger.Debug("class cache cleared", zap.Int("entries", len(s.classes)))
		s.classes = make(map[classKey]*entity.Class, s.classCacheLimit)
		s.classCacheClears++
		metrics.ObserveClassCacheEviction()
	}
}

// UpsertClassInstance resolves (class, period, year), inserting it when unknown.
func (s *Store) UpsertClassInstance(ctx context.Context, in entity.ClassInstance) (*entity.ClassInstance, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertClassInstanceLocked(ctx, in)
}

func (s *Store) upsertClassInstanceLocked(ctx context.Context, in entity.ClassInstance) (*entity.ClassInstance, bool, error) {
	const op = "store.UpsertClassInstance"
	if in.Class == nil || in.Class.ID == 0 {
		return nil, false, clip.UnknownReferenceError(op, "class instance", "unsaved class")
	}
	period := s.periodByRef(in.Period)
	if period == nil {
		ref := "<nil>"
		if in.Period != nil {
			ref = in.Period.String()
		}
		return nil, false, clip.UnknownReferenceError(op, fmt.Sprintf("instance of %s", in.Class.ExternalID), "period "+ref)
	}
	in.Period = period

	id, err := s.backend.FindClassInstance(ctx, in.Class.ID, period.ID, in.Year)
	switch {
	case err == nil:
		in.ID = id
		observe("class_instance", false, false)
		return &in, false, nil
	case !isNotFound(err):
		return nil, false, clip.PersistenceError(op, err)
	}

	id, err = s.backend.InsertClassInstance(ctx, in)
	if err != nil {
		return nil, false, s.rollbackLocked(ctx, op, err)
	}
	in.ID = id
	s.logger.Debug("class instance added", zap.Stringer("instance", in))
	observe("class_instance", true, true)
	return &in, true, nil
}

// AddClassInstances upserts a batch and commits once. It returns how many were new.
func (s *Store) AddClassInstances(ctx context.Context, instances []entity.ClassInstance) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		added    int
		itemErrs []error
	)
	for _, ci := range instances {
		_, inserted, err := s.upsertClassInstanceLocked(ctx, ci)
		if err != nil {
			if clip.IsKind(err, clip.KindPersistence) {
				return added, err
			}
			itemErrs = append(itemErrs, err)
			continue
		}
		if inserted {
			added++
		}
	}
	if err := s.commitLocked(ctx); err != nil {
		return 0, err
	}
	return added, errors.Join(itemErrs...)
}

// FetchClassInstances lists every stored class instance ordered by year.
// Classes are served from the partial cache where possible.
func (s *Store) FetchClassInstances(ctx context.Context, order Order) ([]*entity.ClassInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.backend.ClassInstances(ctx, order)
	if err != nil {
		return nil, clip.PersistenceError("store.FetchClassInstances", err)
	}
	out := make([]*entity.ClassInstance, 0, len(rows))
	for i := range rows {
		row := rows[i]
		if row.Class == nil {
			continue
		}
		dept := s.departmentByRef(row.Class.Department)
		period := s.periodByRef(row.Period)
		if dept == nil || period == nil {
			s.logger.Warn("class instance with unknown references skipped", zap.Int64("id", row.ID))
			continue
		}
		key := classKey{department: dept.ID, ext: row.Class.ExternalID}
		class, ok := s.classes[key]
		if !ok {
			c := *row.Class
			c.Department = dept
			class = &c
			s.cacheClass(key, class)
		}
		out = append(out, &entity.ClassInstance{ID: row.ID, Class: class, Period: period, Year: row.Year})
	}
	return out, nil
}

func departmentRef(ref *entity.Department) string {
	if ref == nil {
		return "department <nil>"
	}
	return "department " + ref.ExternalID
}
