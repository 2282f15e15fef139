package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/clip-harvester/internal/entity"
)

func institutionStub(id *int64) *entity.Institution {
	if id == nil {
		return nil
	}
	return &entity.Institution{Identity: entity.Identity{ID: *id}}
}

func institutionID(inst *entity.Institution) *int64 {
	if inst == nil || inst.ID == 0 {
		return nil
	}
	return &inst.ID
}

func courseID(course *entity.Course) *int64 {
	if course == nil || course.ID == 0 {
		return nil
	}
	return &course.ID
}

func degreeID(degree *entity.Degree) *int64 {
	if degree == nil || degree.ID == 0 {
		return nil
	}
	return &degree.ID
}

// LoadInstitutions implements store.Backend.
func (b *Backend) LoadInstitutions(ctx context.Context) ([]entity.Institution, error) {
	rows, err := b.query(ctx, "load institutions",
		`SELECT id, external_id, abbreviation, name, first_year, last_year FROM institutions ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (entity.Institution, error) {
		var (
			inst        entity.Institution
			first, last *int
		)
		err := row.Scan(&inst.ID, &inst.ExternalID, &inst.Abbreviation, &inst.Name, &first, &last)
		inst.Years = entity.YearRange{First: yearOf(first), Last: yearOf(last)}
		return inst, err
	})
}

// LoadDepartments implements store.Backend.
func (b *Backend) LoadDepartments(ctx context.Context) ([]entity.Department, error) {
	rows, err := b.query(ctx, "load departments",
		`SELECT id, external_id, name, institution_id, first_year, last_year FROM departments ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (entity.Department, error) {
		var (
			dept        entity.Department
			inst        int64
			first, last *int
		)
		err := row.Scan(&dept.ID, &dept.ExternalID, &dept.Name, &inst, &first, &last)
		dept.Institution = institutionStub(&inst)
		dept.Years = entity.YearRange{First: yearOf(first), Last: yearOf(last)}
		return dept, err
	})
}

// LoadDegrees implements store.Backend.
func (b *Backend) LoadDegrees(ctx context.Context) ([]entity.Degree, error) {
	rows, err := b.query(ctx, "load degrees", `SELECT id, external_id, name FROM degrees ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (entity.Degree, error) {
		var d entity.Degree
		err := row.Scan(&d.ID, &d.ExternalID, &d.Name)
		return d, err
	})
}

// LoadPeriods implements store.Backend.
func (b *Backend) LoadPeriods(ctx context.Context) ([]entity.Period, error) {
	rows, err := b.query(ctx, "load periods",
		`SELECT id, stage, stages, letter, start_month, end_month FROM periods ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (entity.Period, error) {
		var (
			p          entity.Period
			start, end *int
		)
		err := row.Scan(&p.ID, &p.Stage, &p.Stages, &p.Letter, &start, &end)
		p.StartMonth, p.EndMonth = yearOf(start), yearOf(end)
		return p, err
	})
}

// LoadCourses implements store.Backend.
func (b *Backend) LoadCourses(ctx context.Context) ([]entity.Course, error) {
	rows, err := b.query(ctx, "load courses",
		`SELECT id, external_id, name, abbreviation, degree_id, institution_id, first_year, last_year
		FROM courses ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (entity.Course, error) {
		var (
			c           entity.Course
			abbr        *string
			degree      *int64
			inst        int64
			first, last *int
		)
		err := row.Scan(&c.ID, &c.ExternalID, &c.Name, &abbr, &degree, &inst, &first, &last)
		c.Abbreviation = stringOf(abbr)
		if degree != nil {
			c.Degree = &entity.Degree{Identity: entity.Identity{ID: *degree}}
		}
		c.Institution = institutionStub(&inst)
		c.Years = entity.YearRange{First: yearOf(first), Last: yearOf(last)}
		return c, err
	})
}

// LoadWeekdays implements store.Backend.
func (b *Backend) LoadWeekdays(ctx context.Context) ([]entity.Weekday, error) {
	rows, err := b.query(ctx, "load weekdays", `SELECT id, name FROM weekdays ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (entity.Weekday, error) {
		var w entity.Weekday
		err := row.Scan(&w.ID, &w.Name)
		return w, err
	})
}

// LoadTurnTypes implements store.Backend.
func (b *Backend) LoadTurnTypes(ctx context.Context) ([]entity.TurnType, error) {
	rows, err := b.query(ctx, "load turn types", `SELECT id, abbreviation, name FROM turn_types ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (entity.TurnType, error) {
		var tt entity.TurnType
		err := row.Scan(&tt.ID, &tt.Abbreviation, &tt.Name)
		return tt, err
	})
}

// LoadTeachers implements store.Backend.
func (b *Backend) LoadTeachers(ctx context.Context) ([]entity.Teacher, error) {
	rows, err := b.query(ctx, "load teachers", `SELECT id, name FROM teachers ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (entity.Teacher, error) {
		var t entity.Teacher
		err := row.Scan(&t.ID, &t.Name)
		return t, err
	})
}

// LoadBuildings implements store.Backend.
func (b *Backend) LoadBuildings(ctx context.Context) ([]entity.Building, error) {
	rows, err := b.query(ctx, "load buildings", `SELECT id, name, institution_id FROM buildings ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (entity.Building, error) {
		var (
			bld  entity.Building
			inst *int64
		)
		err := row.Scan(&bld.ID, &bld.Name, &inst)
		bld.Institution = institutionStub(inst)
		return bld, err
	})
}

// LoadClassrooms implements store.Backend.
func (b *Backend) LoadClassrooms(ctx context.Context) ([]entity.Classroom, error) {
	rows, err := b.query(ctx, "load classrooms", `SELECT id, name, building_id FROM classrooms ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (entity.Classroom, error) {
		var (
			c        entity.Classroom
			building int64
		)
		err := row.Scan(&c.ID, &c.Name, &building)
		c.Building = &entity.Building{ID: building}
		return c, err
	})
}

// InsertInstitution implements store.Backend.
func (b *Backend) InsertInstitution(ctx context.Context, inst entity.Institution) (int64, error) {
	return b.insertID(ctx, "insert institution",
		`INSERT INTO institutions (external_id, abbreviation, name, first_year, last_year)
		VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		inst.ExternalID, inst.Abbreviation, inst.Name, nullYear(inst.Years.First), nullYear(inst.Years.Last))
}

// UpdateInstitution implements store.Backend.
func (b *Backend) UpdateInstitution(ctx context.Context, inst entity.Institution) error {
	return b.exec(ctx, "update institution",
		`UPDATE institutions SET name = $1, first_year = $2, last_year = $3 WHERE id = $4`,
		inst.Name, nullYear(inst.Years.First), nullYear(inst.Years.Last), inst.ID)
}

// InsertDepartment implements store.Backend.
func (b *Backend) InsertDepartment(ctx context.Context, dept entity.Department) (int64, error) {
	return b.insertID(ctx, "insert department",
		`INSERT INTO departments (external_id, name, institution_id, first_year, last_year)
		VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		dept.ExternalID, dept.Name, institutionID(dept.Institution), nullYear(dept.Years.First), nullYear(dept.Years.Last))
}

// UpdateDepartment implements store.Backend.
func (b *Backend) UpdateDepartment(ctx context.Context, dept entity.Department) error {
	return b.exec(ctx, "update department",
		`UPDATE departments SET first_year = $1, last_year = $2 WHERE id = $3`,
		nullYear(dept.Years.First), nullYear(dept.Years.Last), dept.ID)
}

// InsertDegree implements store.Backend.
func (b *Backend) InsertDegree(ctx context.Context, degree entity.Degree) (int64, error) {
	return b.insertID(ctx, "insert degree",
		`INSERT INTO degrees (external_id, name) VALUES ($1, $2) RETURNING id`,
		degree.ExternalID, degree.Name)
}

// InsertCourse implements store.Backend.
func (b *Backend) InsertCourse(ctx context.Context, course entity.Course) (int64, error) {
	return b.insertID(ctx, "insert course",
		`INSERT INTO courses (external_id, name, abbreviation, degree_id, institution_id, first_year, last_year)
		VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		course.ExternalID, course.Name, nullString(course.Abbreviation), degreeID(course.Degree),
		institutionID(course.Institution), nullYear(course.Years.First), nullYear(course.Years.Last))
}

// UpdateCourse implements store.Backend.
func (b *Backend) UpdateCourse(ctx context.Context, course entity.Course) error {
	return b.exec(ctx, "update course",
		`UPDATE courses SET abbreviation = $1, degree_id = $2, first_year = $3, last_year = $4 WHERE id = $5`,
		nullString(course.Abbreviation), degreeID(course.Degree),
		nullYear(course.Years.First), nullYear(course.Years.Last), course.ID)
}
