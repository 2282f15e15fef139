package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/clip-harvester/internal/entity"
	"github.com/JakeFAU/clip-harvester/internal/store"
)

// FindClass implements store.Backend.
func (b *Backend) FindClass(ctx context.Context, departmentID int64, externalID string) (entity.Class, error) {
	class := entity.Class{Department: &entity.Department{Identity: entity.Identity{ID: departmentID}}}
	err := b.reader().QueryRow(ctx,
		`SELECT id, external_id, name FROM classes WHERE department_id = $1 AND external_id = $2`,
		departmentID, externalID,
	).Scan(&class.ID, &class.ExternalID, &class.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return entity.Class{}, store.ErrNotFound
	}
	if err != nil {
		return entity.Class{}, fmt.Errorf("find class: %w", err)
	}
	return class, nil
}

// InsertClass implements store.Backend.
func (b *Backend) InsertClass(ctx context.Context, class entity.Class) (int64, error) {
	return b.insertID(ctx, "insert class",
		`INSERT INTO classes (external_id, name, department_id) VALUES ($1, $2, $3) RETURNING id`,
		class.ExternalID, class.Name, class.Department.ID)
}

// FindClassInstance implements store.Backend.
func (b *Backend) FindClassInstance(ctx context.Context, classID, periodID int64, year int) (int64, error) {
	var id int64
	err := b.reader().QueryRow(ctx,
		`SELECT id FROM class_instances WHERE class_id = $1 AND period_id = $2 AND year = $3`,
		classID, periodID, year,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, store.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("find class instance: %w", err)
	}
	return id, nil
}

// InsertClassInstance implements store.Backend.
func (b *Backend) InsertClassInstance(ctx context.Context, ci entity.ClassInstance) (int64, error) {
	return b.insertID(ctx, "insert class instance",
		`INSERT INTO class_instances (class_id, period_id, year) VALUES ($1, $2, $3) RETURNING id`,
		ci.Class.ID, ci.Period.ID, ci.Year)
}

// ClassInstances implements store.Backend. Classes are joined in full.
func (b *Backend) ClassInstances(ctx context.Context, order store.Order) ([]entity.ClassInstance, error) {
	direction := "ASC"
	if order == store.OrderDescending {
		direction = "DESC"
	}
	rows, err := b.query(ctx, "list class instances", fmt.Sprintf(
		`SELECT ci.id, ci.year, ci.period_id, c.id, c.external_id, c.name, c.department_id
		FROM class_instances ci JOIN classes c ON c.id = ci.class_id
		ORDER BY ci.year %s, ci.id`, direction))
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (entity.ClassInstance, error) {
		var (
			ci     entity.ClassInstance
			class  entity.Class
			period int64
			dept   int64
		)
		err := row.Scan(&ci.ID, &ci.Year, &period, &class.ID, &class.ExternalID, &class.Name, &dept)
		class.Department = &entity.Department{Identity: entity.Identity{ID: dept}}
		ci.Class = &class
		ci.Period = &entity.Period{ID: period}
		return ci, err
	})
}

func scanStudent(row pgx.CollectableRow) (entity.Student, error) {
	var (
		s            entity.Student
		abbr         *string
		course, inst *int64
	)
	err := row.Scan(&s.ID, &s.ExternalID, &s.Name, &abbr, &course, &inst)
	s.Abbreviation = stringOf(abbr)
	if course != nil {
		s.Course = &entity.Course{Identity: entity.Identity{ID: *course}}
	}
	s.Institution = institutionStub(inst)
	return s, err
}

// FindStudents implements store.Backend.
func (b *Backend) FindStudents(ctx context.Context, externalID string) ([]entity.Student, error) {
	rows, err := b.query(ctx, "find students",
		`SELECT id, external_id, name, abbreviation, course_id, institution_id
		FROM students WHERE external_id = $1 ORDER BY id`, externalID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanStudent)
}

// InsertStudent implements store.Backend.
func (b *Backend) InsertStudent(ctx context.Context, student entity.Student) (int64, error) {
	return b.insertID(ctx, "insert student",
		`INSERT INTO students (external_id, name, abbreviation, course_id, institution_id)
		VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		student.ExternalID, student.Name, nullString(student.Abbreviation),
		courseID(student.Course), institutionID(student.Institution))
}

// UpdateStudent implements store.Backend.
func (b *Backend) UpdateStudent(ctx context.Context, student entity.Student) error {
	return b.exec(ctx, "update student",
		`UPDATE students SET abbreviation = $1, course_id = $2, institution_id = $3 WHERE id = $4`,
		nullString(student.Abbreviation), courseID(student.Course), institutionID(student.Institution), student.ID)
}

// SearchStudents implements store.Backend.
func (b *Backend) SearchStudents(ctx context.Context, pattern string) ([]entity.Student, error) {
	rows, err := b.query(ctx, "search students",
		`SELECT id, external_id, name, abbreviation, course_id, institution_id
		FROM students WHERE name ILIKE $1 ORDER BY name, id`, pattern)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanStudent)
}

// FindTurn implements store.Backend.
func (b *Backend) FindTurn(ctx context.Context, classInstanceID int64, number int, typeID int64) (entity.Turn, error) {
	turn := entity.Turn{
		ClassInstance: &entity.ClassInstance{ID: classInstanceID},
		Number:        number,
		Type:          &entity.TurnType{ID: typeID},
	}
	var restrictions, routes, state *string
	err := b.reader().QueryRow(ctx,
		`SELECT id, enrolled, capacity, minutes, restrictions, routes, state
		FROM turns WHERE class_instance_id = $1 AND number = $2 AND type_id = $3`,
		classInstanceID, number, typeID,
	).Scan(&turn.ID, &turn.Enrolled, &turn.Capacity, &turn.Minutes, &restrictions, &routes, &state)
	if errors.Is(err, pgx.ErrNoRows) {
		return entity.Turn{}, store.ErrNotFound
	}
	if err != nil {
		return entity.Turn{}, fmt.Errorf("find turn: %w", err)
	}
	turn.Restrictions, turn.Routes, turn.State = stringOf(restrictions), stringOf(routes), stringOf(state)
	return turn, nil
}

// InsertTurn implements store.Backend.
func (b *Backend) InsertTurn(ctx context.Context, turn entity.Turn) (int64, error) {
	return b.insertID(ctx, "insert turn",
		`INSERT INTO turns (class_instance_id, number, type_id, enrolled, capacity, minutes, restrictions, routes, state)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`,
		turn.ClassInstance.ID, turn.Number, turn.Type.ID, turn.Enrolled, turn.Capacity, turn.Minutes,
		nullString(turn.Restrictions), nullString(turn.Routes), nullString(turn.State))
}

// UpdateTurn implements store.Backend.
func (b *Backend) UpdateTurn(ctx context.Context, turn entity.Turn) error {
	return b.exec(ctx, "update turn",
		`UPDATE turns SET enrolled = $1, capacity = $2, minutes = $3, restrictions = $4, routes = $5, state = $6
		WHERE id = $7`,
		turn.Enrolled, turn.Capacity, turn.Minutes,
		nullString(turn.Restrictions), nullString(turn.Routes), nullString(turn.State), turn.ID)
}

// InsertTeacher implements store.Backend.
func (b *Backend) InsertTeacher(ctx context.Context, name string) (int64, error) {
	return b.insertID(ctx, "insert teacher", `INSERT INTO teachers (name) VALUES ($1) RETURNING id`, name)
}

// ReplaceTurnTeachers implements store.Backend.
func (b *Backend) ReplaceTurnTeachers(ctx context.Context, turnID int64, teacherIDs []int64) error {
	if err := b.exec(ctx, "delete turn teachers", `DELETE FROM turn_teachers WHERE turn_id = $1`, turnID); err != nil {
		return err
	}
	for _, teacherID := range teacherIDs {
		if err := b.exec(ctx, "link turn teacher",
			`INSERT INTO turn_teachers (turn_id, teacher_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			turnID, teacherID); err != nil {
			return err
		}
	}
	return nil
}

// LinkTurnStudent implements store.Backend.
func (b *Backend) LinkTurnStudent(ctx context.Context, turnID, studentID int64) error {
	return b.exec(ctx, "link turn student",
		`INSERT INTO turn_students (turn_id, student_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		turnID, studentID)
}

// InsertBuilding implements store.Backend.
func (b *Backend) InsertBuilding(ctx context.Context, building entity.Building) (int64, error) {
	return b.insertID(ctx, "insert building",
		`INSERT INTO buildings (name, institution_id) VALUES ($1, $2) RETURNING id`,
		building.Name, institutionID(building.Institution))
}

// InsertClassroom implements store.Backend.
func (b *Backend) InsertClassroom(ctx context.Context, classroom entity.Classroom) (int64, error) {
	return b.insertID(ctx, "insert classroom",
		`INSERT INTO classrooms (name, building_id) VALUES ($1, $2) RETURNING id`,
		classroom.Name, classroom.Building.ID)
}

// ReplaceTurnInstances implements store.Backend.
func (b *Backend) ReplaceTurnInstances(ctx context.Context, turnID int64, instances []entity.TurnInstance) error {
	if err := b.exec(ctx, "delete turn instances", `DELETE FROM turn_instances WHERE turn_id = $1`, turnID); err != nil {
		return err
	}
	for _, ti := range instances {
		var classroom *int64
		if ti.Classroom != nil {
			classroom = &ti.Classroom.ID
		}
		if err := b.exec(ctx, "insert turn instance",
			`INSERT INTO turn_instances (turn_id, start_minute, end_minute, weekday_id, classroom_id)
			VALUES ($1, $2, $3, $4, $5)`,
			turnID, ti.Start, ti.End, ti.Weekday, classroom); err != nil {
			return err
		}
	}
	return nil
}

// InsertAdmission implements store.Backend. An admission already stored for the
// same student (or name, for anonymous rows), course, phase and year is updated.
func (b *Backend) InsertAdmission(ctx context.Context, a entity.Admission) error {
	conflict := `ON CONFLICT (course_id, phase, year, name) WHERE student_id IS NULL`
	var student *int64
	if a.Student != nil {
		student = &a.Student.ID
		conflict = `ON CONFLICT (course_id, phase, year, student_id) WHERE student_id IS NOT NULL`
	}
	return b.exec(ctx, "insert admission",
		`INSERT INTO admissions (student_id, name, course_id, phase, year, preference, state, checked_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8) `+conflict+`
		DO UPDATE SET preference = EXCLUDED.preference, state = EXCLUDED.state, checked_at = EXCLUDED.checked_at`,
		student, nullString(a.Name), courseID(a.Course), a.Phase, a.Year, a.Option, nullString(a.State), a.CheckedAt)
}

// InsertEnrollment implements store.Backend.
func (b *Backend) InsertEnrollment(ctx context.Context, e entity.Enrollment) (bool, error) {
	tx, err := b.writer(ctx)
	if err != nil {
		return false, err
	}
	tag, err := tx.Exec(ctx,
		`INSERT INTO enrollments (student_id, class_instance_id, attempt, student_year, statutes, observation)
		VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT (student_id, class_instance_id) DO NOTHING`,
		e.Student.ID, e.ClassInstance.ID, e.Attempt, e.StudentYear, nullString(e.Statutes), nullString(e.Observation))
	if err != nil {
		return false, fmt.Errorf("insert enrollment: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// InsertRun implements store.Backend.
func (b *Backend) InsertRun(ctx context.Context, run store.Run) error {
	return b.exec(ctx, "insert run",
		`INSERT INTO harvest_runs (id, phases, started_at, status) VALUES ($1, $2, $3, $4)`,
		run.ID, run.Phases, run.StartedAt, string(run.Status))
}

// FinishRun implements store.Backend.
func (b *Backend) FinishRun(ctx context.Context, run store.Run) error {
	return b.exec(ctx, "finish run",
		`UPDATE harvest_runs SET finished_at = $1, status = $2, error_message = $3 WHERE id = $4`,
		run.FinishedAt, string(run.Status), run.ErrorMessage, run.ID)
}

// InsertFailure implements store.Backend.
func (b *Backend) InsertFailure(ctx context.Context, f store.Failure) error {
	return b.exec(ctx, "insert failure",
		`INSERT INTO harvest_failures (run_id, phase, item, url, kind, message, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		f.RunID, f.Phase, f.Item, nullString(f.URL), f.Kind, f.Message, f.OccurredAt)
}
