package harvest

import (
	"context"
	"errors"

	"github.com/JakeFAU/clip-harvester/internal/clip"
	"github.com/JakeFAU/clip-harvester/internal/entity"
	"github.com/JakeFAU/clip-harvester/internal/extract"
)

// admissions stores the placements of every course, admission phase and
// active year of each institution. One work item is one institution year,
// committed as a single batch.
func (h *Harvester) admissions(ctx context.Context, p *phaseRun) error {
	const op = "harvest.admissions"
	return runPool(ctx, p, h.activeYears(p), institutionYear.key,
		func(ctx context.Context, iy institutionYear) error {
			inst := iy.inst
			item := iy.key()
			_, doc, err := p.fetch(ctx, h.urls.Admissions(inst.ExternalID, iy.year))
			if err != nil {
				return err
			}

			var batch []entity.Admission
			for _, courseID := range extract.AdmissionCourses(doc) {
				course, ok := h.deps.Store.Course(inst.ExternalID, courseID)
				if !ok {
					p.fail(ctx, describe(item, courseID), clip.UnknownReferenceError(op, "admissions", "course "+courseID))
					continue
				}
				for phase := entity.FirstAdmissionPhase; phase <= entity.LastAdmissionPhase; phase++ {
					page, doc, err := p.fetch(ctx, h.urls.Admitted(inst.ExternalID, iy.year, phase, courseID))
					if err != nil {
						return err
					}
					rows, warnings, err := extract.Admissions(doc)
					p.extracted(ctx, describe(item, courseID, phase), page, warnings, err)
					if errors.Is(err, extract.ErrNoData) {
						continue
					}
					if err != nil {
						return err
					}
					for _, row := range rows {
						batch = append(batch, admission(row, course, inst, phase, iy.year))
					}
				}
			}
			_, err = h.deps.Store.AddAdmissions(ctx, batch)
			return p.settle(ctx, item, err)
		})
}

func admission(row extract.AdmissionRow, course *entity.Course, inst *entity.Institution, phase, year int) entity.Admission {
	a := entity.Admission{
		Name:   row.Name,
		Course: course,
		Phase:  phase,
		Year:   year,
		Option: row.Option,
		State:  row.State,
	}
	if row.ExternalID != "" {
		a.Student = &entity.Student{
			Identity:    entity.Identity{ExternalID: row.ExternalID},
			Name:        row.Name,
			Course:      course,
			Institution: inst,
		}
	}
	return a
}
