package extract

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/clip-harvester/internal/clip"
	"github.com/JakeFAU/clip-harvester/internal/entity"
)

func parse(t *testing.T, html string) *Document {
	t.Helper()
	doc, err := Parse(clip.Page{URL: "http://clip.test/page", Body: []byte(html)})
	require.NoError(t, err)
	return doc
}

func TestParseStripsNoise(t *testing.T) {
	t.Parallel()

	doc := parse(t, `<html><head><title>x</title></head><body><script>var a;</script><img src="x.png"><p>ok</p></body></html>`)
	require.Equal(t, 0, doc.Find("script, img, head").Length())
	require.Equal(t, "ok", doc.Find("p").Text())
}

func TestInstitutionsAndYears(t *testing.T) {
	t.Parallel()

	doc := parse(t, `<body>
		<a href="/utente/ensino?institui%E7%E3o=97747">FCT</a>
		<a href="/utente/ensino?institui%E7%E3o=97747">FCT</a>
		<a href="/utente/ensino?institui%E7%E3o=12&amp;x=1">skip</a>
		<a href="/utente/ensino?institui%E7%E3o=55">ENSP</a>
		<a href="/x?ano_lectivo=2016&amp;institui%E7%E3o=97747">2016</a>
		<a href="/x?ano_lectivo=2014&amp;institui%E7%E3o=97747">2014</a>
	</body>`)

	insts := Institutions(doc)
	require.Len(t, insts, 2)
	require.Equal(t, "97747", insts[0].ExternalID)
	require.Equal(t, "FCT", insts[0].Abbreviation)
	require.Equal(t, "FCT", insts[0].Name)
	require.Equal(t, []int{2014, 2016}, Years(doc))
}

func TestDepartmentsPeriodsClasses(t *testing.T) {
	t.Parallel()

	doc := parse(t, `<body>
		<a href="/s?institui%E7%E3o=97747&amp;ano_lectivo=2018&amp;sector=98027">Departamento de Informática</a>
		<a href="/s/a?tipo_de_per%EDodo_lectivo=s&amp;sector=98027&amp;ano_lectivo=2018&amp;per%EDodo_lectivo=2&amp;institui%E7%E3o=97747">2º Semestre</a>
		<a href="/s/a?tipo_de_per%EDodo_lectivo=t&amp;sector=98027&amp;ano_lectivo=2018&amp;per%EDodo_lectivo=1&amp;institui%E7%E3o=97747">1º Trimestre</a>
		<a href="/uc?unidade_curricular=5294&amp;sector=98027">Programação Orientada
			pelos Objectos</a>
	</body>`)

	depts := Departments(doc)
	require.NotEmpty(t, depts)
	require.Equal(t, "98027", depts[0].ExternalID)
	require.Equal(t, "Departamento de Informática", depts[0].Name)

	require.Equal(t, []entity.PeriodKey{{Letter: "s", Stage: 2}, {Letter: "t", Stage: 1}}, Periods(doc))

	classes := Classes(doc)
	require.Len(t, classes, 1)
	require.Equal(t, "Programação Orientada pelos Objectos", classes[0].Name)
}

func TestCoursesAndAbbreviations(t *testing.T) {
	t.Parallel()

	doc := parse(t, `<body>
		<a href="/curso?institui%E7%E3o=97747&amp;curso=319">Mestrado Integrado em Engenharia Informática</a>
		<a href="/curso?percurso=4">not a course</a>
	</body>`)
	courses := Courses(doc)
	require.Len(t, courses, 1)
	require.Equal(t, "319", courses[0].ExternalID)

	stats := parse(t, `<body><a href="/e?institui%E7%E3o=97747&amp;curso=319">MIEI</a></body>`)
	require.Equal(t, map[string]string{"319": "MIEI"}, CourseAbbreviations(stats))
	require.Equal(t, []string{"319"}, AdmissionCourses(stats))
}

const admittedPage = `<body><table>
<tr><th colspan="8" bgcolor="#95AEA8">Colocados</th></tr>
<tr><th>Nome</th><th>a</th><th>b</th><th>c</th><th>Opção</th><th>Nº</th><th>Estado</th></tr>
<tr><td>João Silva</td><td></td><td></td><td></td><td>1</td><td>12345</td><td>Matriculado</td></tr>
<tr><td>Maria Costa</td><td></td><td></td><td></td><td></td><td></td><td></td></tr>
<tr><td>Rui</td><td></td><td></td><td></td><td>x</td><td>1</td><td></td></tr>
<tr><td>short</td></tr>
</table></body>`

func TestAdmissions(t *testing.T) {
	t.Parallel()

	rows, warnings, err := Admissions(parse(t, admittedPage))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Len(t, warnings, 2)
	for _, w := range warnings {
		require.True(t, clip.IsKind(w, clip.KindRow))
	}

	require.Equal(t, "João Silva", rows[0].Name)
	require.Equal(t, "12345", rows[0].ExternalID)
	require.Equal(t, 1, *rows[0].Option)
	require.Equal(t, "Matriculado", rows[0].State)

	require.Empty(t, rows[1].ExternalID)
	require.Nil(t, rows[1].Option)
}

func TestAdmissionsWithoutTable(t *testing.T) {
	t.Parallel()

	_, _, err := Admissions(parse(t, `<body><p>nada</p></body>`))
	require.ErrorIs(t, err, ErrNoData)
}

func TestRosterLine(t *testing.T) {
	t.Parallel()

	row, err := RosterLine("Ordinário\tJoão Silva\t12345\tjsilva\tMIEI\t1º\t2º")
	require.NoError(t, err)
	require.Equal(t, RosterRow{
		Statutes:           "Ordinário",
		Name:               "João Silva",
		ExternalID:         "12345",
		Abbreviation:       "jsilva",
		CourseAbbreviation: "MIEI",
		Attempt:            1,
		Year:               2,
	}, row)
}

func TestRosterSkipsMalformedRows(t *testing.T) {
	t.Parallel()

	body := []byte("Ordinário\tJoão Silva\t12345\tjsilva\tMIEI\t1º\t2º\n" +
		"broken\tline\n" +
		"\n" +
		"Trabalhador-Estudante\tMaria Costa\t23456\tmcosta\tLEI\t2ª\t3º\r\n")

	rows, warnings, err := Roster(body)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Len(t, warnings, 1)
	require.True(t, clip.IsKind(warnings[0], clip.KindRow))
	require.Equal(t, 3, rows[1].Year)
	require.Equal(t, 2, rows[1].Attempt)
}

func TestRosterInvalidRequest(t *testing.T) {
	t.Parallel()

	_, warnings, err := Roster([]byte("<html>Pedido inválido</html>"))
	require.ErrorIs(t, err, ErrNoData)
	require.Empty(t, warnings)
}

func TestParseSchedule(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		line string
		want ScheduleSlot
	}{
		{
			name: "room and building",
			line: "Quinta-feira  09:00 - 11:00  Ed C: 101/Edificio C",
			want: ScheduleSlot{Weekday: "Quinta-feira", Start: 540, End: 660, Room: "101", Building: "Edificio C"},
		},
		{
			name: "building only",
			line: "Segunda-feira 14:30 - 16:00 Ed: Laboratório/Edifício Departamental",
			want: ScheduleSlot{Weekday: "Segunda-feira", Start: 870, End: 960, Room: "Edifício Departamental", Building: "Edifício Departamental"},
		},
		{
			name: "no descriptor",
			line: "Sábado 8:00 - 9:30",
			want: ScheduleSlot{Weekday: "Sábado", Start: 480, End: 570},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseSchedule(tt.line)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}

	slot, err := ParseSchedule("Sábado 8:00 - 9:30")
	require.NoError(t, err)
	require.False(t, slot.HasLocation())

	_, err = ParseSchedule("sem horário")
	require.True(t, clip.IsKind(err, clip.KindRow))
	_, err = ParseSchedule("Terça-feira 11:00 - 09:00")
	require.True(t, clip.IsKind(err, clip.KindRow))
}

const turnPage = `<body>
<a href="/turnos?unidade_curricular=5294&amp;tipo=p&amp;n%BA=2&amp;aux=ficheiro">Alunos (ficheiro)</a>
<table>
<tr><td>Marcação:</td><td>Quinta-feira  09:00 - 11:00  Ed C: 101/Edificio C</td></tr>
<tr><td></td><td>Sexta-feira 09:00 - 10:00</td></tr>
<tr><td>Horas semanais:</td><td>3</td></tr>
<tr><td>Docentes:</td><td>Ana Pires</td></tr>
<tr><td></td><td>Luís Caires</td></tr>
<tr><td>Alunos:</td><td>25</td></tr>
<tr><td>Capacidade:</td><td>30</td></tr>
<tr><td>Estado:</td><td>Aberto</td></tr>
<tr><td>Restrições:</td><td></td></tr>
</table>
<a href="/aluno?aluno=12345">João Silva</a>
</body>`

func TestTurnInfo(t *testing.T) {
	t.Parallel()

	doc := parse(t, turnPage)
	info, warnings, err := Turn(doc)
	require.NoError(t, err)
	require.Empty(t, warnings)
	require.Len(t, info.Schedule, 2)
	require.Equal(t, "Edificio C", info.Schedule[0].Building)
	require.False(t, info.Schedule[1].HasLocation())
	require.Equal(t, []string{"Ana Pires", "Luís Caires"}, info.Teachers)
	require.Equal(t, 180, *info.Minutes)
	require.Equal(t, 25, *info.Enrolled)
	require.Equal(t, 30, *info.Capacity)
	require.Equal(t, "Aberto", info.State)
	require.Empty(t, info.Restrictions)

	students := Students(doc)
	require.Len(t, students, 1)
	require.Equal(t, "12345", students[0].ExternalID)
}

func TestInfoTableUnknownKeyIsPhaseFatal(t *testing.T) {
	t.Parallel()

	doc := parse(t, `<table><tr><td>Marcação:</td><td>x</td></tr><tr><td>Sala nova:</td><td>y</td></tr></table>`)
	_, err := InfoTable(doc)
	require.Error(t, err)
	require.True(t, clip.PhaseFatal(err))
	require.Contains(t, err.Error(), "Sala nova")
}

func TestTurnLinks(t *testing.T) {
	t.Parallel()

	single, refs, err := TurnLinks(parse(t, turnPage))
	require.NoError(t, err)
	require.True(t, single)
	require.Equal(t, []TurnRef{{Type: "p", Number: 2}}, refs)

	multi := parse(t, `<body>
		<a href="/turnos?unidade_curricular=5294&amp;tipo=t&amp;n%BA=1">T1</a>
		<a href="/turnos?unidade_curricular=5294&amp;tipo=p&amp;n%BA=1">P1</a>
		<a href="/turnos?unidade_curricular=5294&amp;tipo=p&amp;n%BA=1">P1</a>
	</body>`)
	single, refs, err = TurnLinks(multi)
	require.NoError(t, err)
	require.False(t, single)
	require.Equal(t, []TurnRef{{Type: "t", Number: 1}, {Type: "p", Number: 1}}, refs)

	_, _, err = TurnLinks(parse(t, `<a href="/f?aux=ficheiro">f</a>`))
	require.True(t, clip.PhaseFatal(err))
}
