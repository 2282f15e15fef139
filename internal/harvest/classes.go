package harvest

import (
	"context"

	"github.com/JakeFAU/clip-harvester/internal/clip"
	"github.com/JakeFAU/clip-harvester/internal/entity"
	"github.com/JakeFAU/clip-harvester/internal/extract"
)

// classes walks every department through its active years and periods and
// stores the classes taught there along with their instances.
func (h *Harvester) classes(ctx context.Context, p *phaseRun) error {
	return runPool(ctx, p, h.deps.Store.Departments(), departmentKey,
		func(ctx context.Context, dept *entity.Department) error {
			if !dept.Years.Known() {
				return nil
			}
			item := departmentKey(dept)
			inst := dept.Institution.ExternalID

			var instances []entity.ClassInstance
			for _, year := range dept.Years.Years() {
				_, doc, err := p.fetch(ctx, h.urls.DepartmentPeriods(inst, year, dept.ExternalID))
				if err != nil {
					return err
				}
				for _, key := range extract.Periods(doc) {
					_, doc, err := p.fetch(ctx, h.urls.PeriodClasses(inst, year, dept.ExternalID, key))
					if err != nil {
						return err
					}
					for _, c := range extract.Classes(doc) {
						c.Department = dept
						class, err := h.deps.Store.AddClass(ctx, c, false)
						if err != nil {
							if clip.IsKind(err, clip.KindPersistence) {
								return err
							}
							p.fail(ctx, describe(item, c.ExternalID), err)
							continue
						}
						instances = append(instances, entity.ClassInstance{
							Class:  class,
							Period: &entity.Period{Letter: key.Letter, Stage: key.Stage},
							Year:   year,
						})
					}
				}
			}
			_, err := h.deps.Store.AddClassInstances(ctx, instances)
			return p.settle(ctx, item, err)
		})
}

func departmentKey(d *entity.Department) string {
	if d.Institution == nil {
		return d.ExternalID
	}
	return describe(d.Institution.ExternalID, d.ExternalID)
}

func classInstanceKey(ci *entity.ClassInstance) string {
	class := "?"
	if ci.Class != nil {
		class = ci.Class.ExternalID
	}
	return describe(class, ci.Year, ci.Period)
}

func institutionOf(ci *entity.ClassInstance) *entity.Institution {
	if ci.Class == nil || ci.Class.Department == nil {
		return nil
	}
	return ci.Class.Department.Institution
}
