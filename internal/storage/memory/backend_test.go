package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/clip-harvester/internal/entity"
	"github.com/JakeFAU/clip-harvester/internal/store"
)

func TestBackendRollbackRestoresCommittedState(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	b := NewBackend()

	_, err := b.InsertInstitution(ctx, entity.NewInstitution("97747", "FCT"))
	require.NoError(t, err)
	require.NoError(t, b.Commit(ctx))

	_, err = b.InsertInstitution(ctx, entity.NewInstitution("1", "ITQB"))
	require.NoError(t, err)
	require.NoError(t, b.Rollback(ctx))

	institutions, err := b.LoadInstitutions(ctx)
	require.NoError(t, err)
	require.Len(t, institutions, 1)
	require.Equal(t, "FCT", institutions[0].Abbreviation)
	require.Equal(t, 1, b.Calls("Rollback"))
}

func TestBackendSeedsReferenceTables(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	b := NewBackend()

	periods, err := b.LoadPeriods(ctx)
	require.NoError(t, err)
	require.Len(t, periods, len(store.SeedPeriods))

	weekdays, err := b.LoadWeekdays(ctx)
	require.NoError(t, err)
	require.Equal(t, "Segunda-feira", weekdays[0].Name)
}

func TestBackendFailNext(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	b := NewBackend()
	boom := errors.New("boom")
	b.FailNext("Commit", boom)

	require.ErrorIs(t, b.Commit(ctx), boom)
	require.NoError(t, b.Commit(ctx))
	require.Equal(t, 2, b.Calls("Commit"))
}

func TestBackendSearchStudentsUsesLikePattern(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	b := NewBackend()
	for _, name := range []string{"Maria Joana Silva", "Joana Maria Costa", "Pedro Silva"} {
		_, err := b.InsertStudent(ctx, entity.Student{Identity: entity.Identity{ExternalID: name}, Name: name})
		require.NoError(t, err)
	}

	found, err := b.SearchStudents(ctx, "%maria%silva%")
	require.NoError(t, err)
	require.Len(t, found, 1)
	require.Equal(t, "Maria Joana Silva", found[0].Name)
}

func TestBackendEnrollmentDuplicatesAreReported(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	b := NewBackend()
	e := entity.Enrollment{
		Student:       &entity.Student{Identity: entity.Identity{ID: 1}},
		ClassInstance: &entity.ClassInstance{ID: 2},
	}

	ok, err := b.InsertEnrollment(ctx, e)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = b.InsertEnrollment(ctx, e)
	require.NoError(t, err)
	require.False(t, ok)
}
