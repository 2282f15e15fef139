package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/clip-harvester/internal/entity"
	"github.com/JakeFAU/clip-harvester/internal/store"
)

func newMockBackend(t *testing.T) (*Backend, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	backend, err := NewWithPool(mock)
	require.NoError(t, err)
	return backend, mock
}

func intPtr(v int) *int { return &v }

func TestWritesShareOneTransaction(t *testing.T) {
	t.Parallel()

	backend, mock := newMockBackend(t)
	ctx := context.Background()
	inst := entity.Institution{
		Identity:     entity.Identity{ExternalID: "97747"},
		Abbreviation: "FCT",
		Name:         "FCT",
		Years:        entity.NewYearRange(2018),
	}

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO institutions").
		WithArgs("97747", "FCT", "FCT", intPtr(2018), intPtr(2018)).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(7)))
	mock.ExpectExec("UPDATE institutions").
		WithArgs("Faculdade de Ciências e Tecnologia", intPtr(2018), intPtr(2020), int64(7)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	id, err := backend.InsertInstitution(ctx, inst)
	require.NoError(t, err)
	require.Equal(t, int64(7), id)

	inst.ID = id
	inst.Name = "Faculdade de Ciências e Tecnologia"
	inst.Years.AddYear(2020)
	require.NoError(t, backend.UpdateInstitution(ctx, inst))
	require.NoError(t, backend.Commit(ctx))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitAndRollbackWithoutTransactionAreNoops(t *testing.T) {
	t.Parallel()

	backend, mock := newMockBackend(t)
	require.NoError(t, backend.Commit(context.Background()))
	require.NoError(t, backend.Rollback(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFailedStatementIsRolledBack(t *testing.T) {
	t.Parallel()

	backend, mock := newMockBackend(t)
	ctx := context.Background()
	runID := uuid.New()
	now := time.Unix(1700000000, 0).UTC()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO harvest_failures").
		WithArgs(runID, "turns", "5294", pgxmock.AnyArg(), "transport", "timeout", now).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	err := backend.InsertFailure(ctx, store.Failure{
		RunID: runID, Phase: "turns", Item: "5294", Kind: "transport", Message: "timeout", OccurredAt: now,
	})
	require.ErrorContains(t, err, "insert failure")
	require.NoError(t, backend.Rollback(ctx))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindClassNotFound(t *testing.T) {
	t.Parallel()

	backend, mock := newMockBackend(t)
	mock.ExpectQuery("SELECT id, external_id, name FROM classes").
		WithArgs(int64(3), "5294").
		WillReturnError(pgx.ErrNoRows)

	_, err := backend.FindClass(context.Background(), 3, "5294")
	require.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadInstitutions(t *testing.T) {
	t.Parallel()

	backend, mock := newMockBackend(t)
	rows := pgxmock.NewRows([]string{"id", "external_id", "abbreviation", "name", "first_year", "last_year"}).
		AddRow(int64(1), "97747", "FCT", "Faculdade de Ciências e Tecnologia", intPtr(2005), intPtr(2020)).
		AddRow(int64(2), "97753", "FCSH", "FCSH", (*int)(nil), (*int)(nil))
	mock.ExpectQuery("SELECT id, external_id, abbreviation, name, first_year, last_year FROM institutions").
		WillReturnRows(rows)

	institutions, err := backend.LoadInstitutions(context.Background())
	require.NoError(t, err)
	require.Len(t, institutions, 2)
	require.Equal(t, entity.YearRange{First: 2005, Last: 2020}, institutions[0].Years)
	require.False(t, institutions[1].Years.Known())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertEnrollmentReportsDuplicates(t *testing.T) {
	t.Parallel()

	backend, mock := newMockBackend(t)
	ctx := context.Background()
	e := entity.Enrollment{
		Student:       &entity.Student{Identity: entity.Identity{ID: 11}},
		ClassInstance: &entity.ClassInstance{ID: 22},
		Attempt:       1,
		StudentYear:   2,
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO enrollments").
		WithArgs(int64(11), int64(22), 1, 2, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO enrollments").
		WithArgs(int64(11), int64(22), 1, 2, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	ok, err := backend.InsertEnrollment(ctx, e)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = backend.InsertEnrollment(ctx, e)
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReplaceTurnInstancesDeletesFirst(t *testing.T) {
	t.Parallel()

	backend, mock := newMockBackend(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM turn_instances").
		WithArgs(int64(5)).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))
	mock.ExpectExec("INSERT INTO turn_instances").
		WithArgs(int64(5), 540, 660, int64(4), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err := backend.ReplaceTurnInstances(ctx, 5, []entity.TurnInstance{
		{Start: 540, End: 660, Weekday: 4, Classroom: &entity.Classroom{ID: 9}},
	})
	require.NoError(t, err)
	require.NoError(t, backend.Commit(ctx))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrateSeedsReferenceTables(t *testing.T) {
	t.Parallel()

	backend, mock := newMockBackend(t)
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS institutions").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	for range store.SeedPeriods {
		mock.ExpectExec("INSERT INTO periods").WithArgs(
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
		).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}
	for range store.SeedDegrees {
		mock.ExpectExec("INSERT INTO degrees").WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}
	for range store.SeedTurnTypes {
		mock.ExpectExec("INSERT INTO turn_types").WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}
	for range store.SeedWeekdays {
		mock.ExpectExec("INSERT INTO weekdays").WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}
	for range 4 {
		mock.ExpectExec("SELECT setval").WillReturnResult(pgxmock.NewResult("SELECT", 1))
	}
	mock.ExpectCommit()

	require.NoError(t, backend.Migrate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertAdmissionUpsertsOnNaturalKey(t *testing.T) {
	t.Parallel()

	backend, mock := newMockBackend(t)
	ctx := context.Background()
	now := time.Unix(1700000000, 0).UTC()
	course := &entity.Course{Identity: entity.Identity{ID: 3}}

	mock.ExpectBegin()
	mock.ExpectExec(`(?s)INSERT INTO admissions.+ON CONFLICT \(course_id, phase, year, student_id\) WHERE student_id IS NOT NULL.+DO UPDATE`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), 1, 2018, pgxmock.AnyArg(), pgxmock.AnyArg(), now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`(?s)INSERT INTO admissions.+ON CONFLICT \(course_id, phase, year, name\) WHERE student_id IS NULL.+DO UPDATE`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), 1, 2018, pgxmock.AnyArg(), pgxmock.AnyArg(), now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, backend.InsertAdmission(ctx, entity.Admission{
		Student: &entity.Student{Identity: entity.Identity{ID: 11}}, Course: course, Phase: 1, Year: 2018, State: "Colocado", CheckedAt: now,
	}))
	require.NoError(t, backend.InsertAdmission(ctx, entity.Admission{
		Name: "Rui Lopes", Course: course, Phase: 1, Year: 2018, CheckedAt: now,
	}))
	require.NoError(t, backend.Commit(ctx))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReplaceTurnTeachersDropsStaleLinks(t *testing.T) {
	t.Parallel()

	backend, mock := newMockBackend(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM turn_teachers WHERE turn_id = \$1`).WithArgs(int64(7)).
		WillReturnResult(pgxmock.NewResult("DELETE", 2))
	mock.ExpectExec("INSERT INTO turn_teachers").WithArgs(int64(7), int64(4)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, backend.ReplaceTurnTeachers(ctx, 7, []int64{4}))
	require.NoError(t, backend.Commit(ctx))
	require.NoError(t, mock.ExpectationsWereMet())
}
