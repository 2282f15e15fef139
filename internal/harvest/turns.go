package harvest

import (
	"context"

	"github.com/JakeFAU/clip-harvester/internal/clip"
	"github.com/JakeFAU/clip-harvester/internal/entity"
	"github.com/JakeFAU/clip-harvester/internal/extract"
	"github.com/JakeFAU/clip-harvester/internal/store"
)

// turns reads the turns of every class instance, newest first, and stores
// their schedule, classrooms, teachers and students.
func (h *Harvester) turns(ctx context.Context, p *phaseRun) error {
	instances, err := h.deps.Store.FetchClassInstances(ctx, store.OrderDescending)
	if err != nil {
		return err
	}
	return runPool(ctx, p, instances, classInstanceKey, func(ctx context.Context, ci *entity.ClassInstance) error {
		page, doc, err := p.fetch(ctx, h.urls.Turns(*ci))
		if err != nil {
			return err
		}
		single, refs, err := extract.TurnLinks(doc)
		if err != nil {
			p.archive(ctx, page)
			return err
		}
		if single {
			return h.turn(ctx, p, ci, refs[0], page, doc)
		}
		for _, ref := range refs {
			page, doc, err := p.fetch(ctx, h.urls.Turn(*ci, ref.Type, ref.Number))
			if err == nil {
				err = h.turn(ctx, p, ci, ref, page, doc)
			}
			if err == nil {
				continue
			}
			// One broken turn does not cost the others.
			if clip.PhaseFatal(err) || clip.IsKind(err, clip.KindPersistence) {
				return err
			}
			p.fail(ctx, turnKey(ci, ref), err)
		}
		return nil
	})
}

func (h *Harvester) turn(ctx context.Context, p *phaseRun, ci *entity.ClassInstance, ref extract.TurnRef, page clip.Page, doc *extract.Document) error {
	item := turnKey(ci, ref)
	info, warnings, err := extract.Turn(doc)
	p.extracted(ctx, item, page, warnings, err)
	if err != nil {
		return err
	}

	turn, err := h.deps.Store.AddTurn(ctx, entity.Turn{
		ClassInstance: ci,
		Number:        ref.Number,
		Type:          &entity.TurnType{Abbreviation: ref.Type},
		Enrolled:      info.Enrolled,
		Capacity:      info.Capacity,
		Minutes:       info.Minutes,
		Restrictions:  info.Restrictions,
		Routes:        info.Routes,
		State:         info.State,
		Teachers:      info.Teachers,
	}, false)
	if err != nil {
		return err
	}

	instances := make([]entity.TurnInstance, 0, len(info.Schedule))
	for _, slot := range info.Schedule {
		weekday, err := h.deps.Store.ResolveWeekday(slot.Weekday)
		if err != nil {
			return err
		}
		ti := entity.TurnInstance{Start: slot.Start, End: slot.End, Weekday: weekday}
		if slot.HasLocation() {
			ti.Classroom = &entity.Classroom{Name: slot.Room, Building: &entity.Building{Name: slot.Building}}
		}
		instances = append(instances, ti)
	}
	if err := h.deps.Store.AddTurnInstances(ctx, turn, instances); err != nil {
		return err
	}

	students := extract.Students(doc)
	inst := institutionOf(ci)
	for i := range students {
		students[i].Institution = inst
	}
	_, err = h.deps.Store.AddTurnStudents(ctx, turn, students)
	return p.settleItem(item, err)
}

func turnKey(ci *entity.ClassInstance, ref extract.TurnRef) string {
	return describe(classInstanceKey(ci), ref.Type, ref.Number)
}
