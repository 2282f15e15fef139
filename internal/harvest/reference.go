package harvest

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/clip-harvester/internal/clip"
	"github.com/JakeFAU/clip-harvester/internal/entity"
	"github.com/JakeFAU/clip-harvester/internal/extract"
)

// institutions lists every institution and the years it was active.
func (h *Harvester) institutions(ctx context.Context, p *phaseRun) error {
	const op = "harvest.institutions"
	url := h.urls.Institutions()
	page, doc, err := p.fetch(ctx, url)
	if err != nil {
		return err
	}
	found := extract.Institutions(doc)
	if len(found) == 0 {
		p.archive(ctx, page)
		return clip.ParseError(op, url, "no institution links")
	}

	items := make([]*entity.Institution, len(found))
	for i := range found {
		items[i] = &found[i]
	}
	err = runPool(ctx, p, items, func(inst *entity.Institution) string { return inst.ExternalID },
		func(ctx context.Context, inst *entity.Institution) error {
			_, doc, err := p.fetch(ctx, h.urls.InstitutionYears(inst.ExternalID))
			if err != nil {
				return err
			}
			for _, year := range extract.Years(doc) {
				inst.Years.AddYear(year)
			}
			return nil
		})
	if err != nil {
		return err
	}

	_, err = h.deps.Store.AddInstitutions(ctx, found)
	return p.settle(ctx, "institutions", err)
}

type institutionYear struct {
	inst *entity.Institution
	year int
}

func (iy institutionYear) key() string {
	return describe(iy.inst.ExternalID, iy.year)
}

// activeYears expands every institution with a known activity range into one item per year.
func (h *Harvester) activeYears(p *phaseRun) []institutionYear {
	var items []institutionYear
	for _, inst := range h.deps.Store.Institutions() {
		if !inst.Years.Known() {
			p.logger.Info("institution without activity years skipped", zap.String("institution", inst.ExternalID))
			continue
		}
		for _, year := range inst.Years.Years() {
			items = append(items, institutionYear{inst: inst, year: year})
		}
	}
	return items
}

// departments finds the departments of every institution in every active year.
func (h *Harvester) departments(ctx context.Context, p *phaseRun) error {
	const op = "harvest.departments"
	var (
		mu        sync.Mutex
		collected = make(map[string]*entity.Department)
		conflicts []error
	)
	err := runPool(ctx, p, h.activeYears(p), institutionYear.key,
		func(ctx context.Context, iy institutionYear) error {
			_, doc, err := p.fetch(ctx, h.urls.Departments(iy.inst.ExternalID, iy.year))
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			for _, d := range extract.Departments(doc) {
				key := describe(iy.inst.ExternalID, d.ExternalID)
				if known, ok := collected[key]; ok {
					if known.Name != d.Name {
						conflicts = append(conflicts, clip.ConsistencyError(op, "department "+key, known.Name, d.Name))
						continue
					}
					known.Years.AddYear(iy.year)
					continue
				}
				d.Institution = iy.inst
				d.Years = entity.NewYearRange(iy.year)
				collected[key] = &d
			}
			return nil
		})
	if err != nil {
		return err
	}
	for _, c := range conflicts {
		p.fail(ctx, "departments", c)
	}

	keys := make([]string, 0, len(collected))
	for k := range collected {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	batch := make([]entity.Department, 0, len(keys))
	for _, k := range keys {
		batch = append(batch, *collected[k])
	}
	_, err = h.deps.Store.AddDepartments(ctx, batch)
	return p.settle(ctx, "departments", err)
}

// courses lists the courses of each institution, their curricular plan years and,
// from the statistics pages, their abbreviation and degree.
func (h *Harvester) courses(ctx context.Context, p *phaseRun) error {
	const op = "harvest.courses"
	return runPool(ctx, p, h.deps.Store.Institutions(), func(inst *entity.Institution) string { return inst.ExternalID },
		func(ctx context.Context, inst *entity.Institution) error {
			_, doc, err := p.fetch(ctx, h.urls.Courses(inst.ExternalID))
			if err != nil {
				return err
			}
			courses := extract.Courses(doc)
			index := make(map[string]int, len(courses))
			for i := range courses {
				c := &courses[i]
				c.Institution = inst
				index[c.ExternalID] = i
				_, plans, err := p.fetch(ctx, h.urls.CurricularPlans(inst.ExternalID, c.ExternalID))
				if err != nil {
					return err
				}
				for _, year := range extract.Years(plans) {
					c.Years.AddYear(year)
				}
			}

			var warnings []error
			for _, degree := range h.deps.Store.Degrees() {
				_, stats, err := p.fetch(ctx, h.urls.Statistics(inst.ExternalID, degree.ExternalID))
				if err != nil {
					return err
				}
				for id, abbreviation := range extract.CourseAbbreviations(stats) {
					i, ok := index[id]
					if !ok {
						warnings = append(warnings, clip.RowError(op,
							"course %s (%s) listed in statistics but not in the course list", abbreviation, id))
						continue
					}
					courses[i].Abbreviation = abbreviation
					courses[i].Degree = degree
				}
			}
			p.warn(inst.ExternalID, warnings)

			_, err = h.deps.Store.AddCourses(ctx, courses)
			return p.settle(ctx, inst.ExternalID, err)
		})
}
