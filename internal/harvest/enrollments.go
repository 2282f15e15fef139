package harvest

import (
	"context"
	"errors"

	"github.com/JakeFAU/clip-harvester/internal/clip"
	"github.com/JakeFAU/clip-harvester/internal/entity"
	"github.com/JakeFAU/clip-harvester/internal/extract"
	"github.com/JakeFAU/clip-harvester/internal/store"
)

// enrollments reads the roster of every class instance, oldest first, and
// stores its students and their enrollments.
func (h *Harvester) enrollments(ctx context.Context, p *phaseRun) error {
	instances, err := h.deps.Store.FetchClassInstances(ctx, store.OrderAscending)
	if err != nil {
		return err
	}
	return runPool(ctx, p, instances, classInstanceKey, func(ctx context.Context, ci *entity.ClassInstance) error {
		item := classInstanceKey(ci)
		page, err := h.deps.Transport.Get(ctx, h.urls.Roster(*ci))
		if err != nil {
			return err
		}
		rows, warnings, err := extract.Roster(page.Body)
		p.extracted(ctx, item, page, warnings, err)
		if errors.Is(err, extract.ErrNoData) {
			return nil
		}
		if err != nil {
			return err
		}

		inst := institutionOf(ci)
		batch := make([]entity.Enrollment, 0, len(rows))
		for _, row := range rows {
			course, err := h.deps.Store.CourseByAbbreviation(row.CourseAbbreviation, ci.Year)
			if err != nil {
				return err
			}
			student, err := h.deps.Store.AddStudent(ctx, entity.Student{
				Identity:     entity.Identity{ExternalID: row.ExternalID},
				Name:         row.Name,
				Abbreviation: row.Abbreviation,
				Course:       course,
				Institution:  inst,
			}, false)
			if clip.IsKind(err, clip.KindRow) {
				p.warn(describe(item, row.ExternalID), []error{err})
				continue
			}
			if err != nil {
				return err
			}
			batch = append(batch, entity.Enrollment{
				Student:       student,
				ClassInstance: ci,
				Attempt:       row.Attempt,
				StudentYear:   row.Year,
				Statutes:      row.Statutes,
			})
		}
		_, _, err = h.deps.Store.AddEnrollments(ctx, batch)
		return p.settleItem(item, err)
	})
}
