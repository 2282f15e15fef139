package clip

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/clip-harvester/internal/entity"
)

func TestKindOfThroughWrapping(t *testing.T) {
	t.Parallel()

	base := ParseError("extract.InfoTable", "http://x", "unknown field %q", "Foo")
	wrapped := fmt.Errorf("crawl turn: %w", base)

	require.Equal(t, KindParse, KindOf(wrapped))
	require.True(t, IsKind(wrapped, KindParse))
	require.True(t, PhaseFatal(wrapped))
	require.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	require.False(t, IsKind(nil, KindUnknown))
}

func TestErrorMessageCarriesRecords(t *testing.T) {
	t.Parallel()

	err := ConsistencyError("store.UpsertStudent", "student 12345", "João Silva", "Maria Costa")
	msg := err.Error()
	require.Contains(t, msg, "consistency")
	require.Contains(t, msg, "João Silva")
	require.Contains(t, msg, "Maria Costa")
	require.False(t, err.PhaseFatal())
	require.False(t, err.Retryable())

	cause := errors.New("conn reset")
	perr := PersistenceError("store.Commit", cause)
	require.ErrorIs(t, perr, cause)
	require.True(t, perr.Retryable())
}

func TestURLTemplates(t *testing.T) {
	t.Parallel()

	u := NewURLs("http://clip.test/")
	require.Equal(t, "http://clip.test", u.Base)
	require.Equal(t,
		"http://clip.test/utente/institui%E7%E3o_sede/unidade_organica/ensino/ano_lectivo?ano_lectivo=2018&institui%E7%E3o=97747",
		u.Departments("97747", 2018))

	inst := entity.NewInstitution("97747", "FCT")
	dept := entity.Department{Identity: entity.Identity{ExternalID: "98027"}, Institution: &inst}
	class := entity.Class{Identity: entity.Identity{ExternalID: "5294"}, Department: &dept}
	ci := entity.ClassInstance{Class: &class, Period: &entity.Period{Letter: "s", Stage: 1, Stages: 2}, Year: 2018}

	require.Equal(t,
		"http://clip.test/utente/institui%E7%E3o_sede/unidade_organica/ensino/ano_lectivo/sector/ano_lectivo/unidade_curricular/actividade/turnos?unidade_curricular=5294&institui%E7%E3o=97747&ano_lectivo=2018&tipo_de_per%EDodo_lectivo=s&per%EDodo_lectivo=1&sector=98027&tipo=p&n%BA=1",
		u.Turn(ci, "p", 1))
	require.Contains(t, u.Roster(ci), "modo=pauta&aux=ficheiro")
	require.Equal(t, "http://clip.test/a?b=1", u.Resolve("/a?b=1"))
	require.Equal(t, "https://elsewhere/x", u.Resolve("https://elsewhere/x"))
}
