package clip

import (
	"fmt"
	"strings"

	"github.com/JakeFAU/clip-harvester/internal/entity"
)

// DefaultBaseURL is the production upstream root.
const DefaultBaseURL = "https://clip.unl.pt"

// The upstream expects Latin-1 percent-encoded parameter names, so templates are kept verbatim.
const (
	ensinoPath       = "/utente/institui%E7%E3o_sede/unidade_organica/ensino"
	yearPath         = ensinoPath + "/ano_lectivo"
	sectorPath       = yearPath + "/sector"
	sectorYearPath   = sectorPath + "/ano_lectivo"
	activityPath     = sectorYearPath + "/unidade_curricular/actividade"
	institutionParam = "institui%E7%E3o"
	periodTypeParam  = "tipo_de_per%EDodo_lectivo"
	periodParam      = "per%EDodo_lectivo"
)

// URLs renders the upstream URL templates against a base address.
type URLs struct {
	Base string
}

// NewURLs returns templates rooted at base (DefaultBaseURL when empty).
func NewURLs(base string) URLs {
	if base == "" {
		base = DefaultBaseURL
	}
	return URLs{Base: strings.TrimRight(base, "/")}
}

// Login is the form endpoint that accepts credentials.
func (u URLs) Login() string {
	return u.Base + "/"
}

// Institutions lists every institution of the university.
func (u URLs) Institutions() string {
	return u.Base + ensinoPath
}

// InstitutionYears lists the academic years an institution was active.
func (u URLs) InstitutionYears(institution string) string {
	return fmt.Sprintf("%s%s?%s=%s", u.Base, yearPath, institutionParam, institution)
}

// Departments lists the departments of an institution in a year.
func (u URLs) Departments(institution string, year int) string {
	return fmt.Sprintf("%s%s?ano_lectivo=%d&%s=%s", u.Base, yearPath, year, institutionParam, institution)
}

// DepartmentPeriods lists the periods a department taught in a year.
func (u URLs) DepartmentPeriods(institution string, year int, department string) string {
	return fmt.Sprintf("%s%s?%s=%s&ano_lectivo=%d&sector=%s",
		u.Base, sectorPath, institutionParam, institution, year, department)
}

// PeriodClasses lists the classes a department taught in one period.
func (u URLs) PeriodClasses(institution string, year int, department string, period entity.PeriodKey) string {
	return fmt.Sprintf("%s%s?%s=%s&sector=%s&ano_lectivo=%d&%s=%d&%s=%s",
		u.Base, sectorYearPath, periodTypeParam, period.Letter, department, year,
		periodParam, period.Stage, institutionParam, institution)
}

// Courses lists the courses of an institution.
func (u URLs) Courses(institution string) string {
	return fmt.Sprintf("%s%s/curso?%s=%s", u.Base, ensinoPath, institutionParam, institution)
}

// CurricularPlans lists the years a course had a curricular plan.
func (u URLs) CurricularPlans(institution, course string) string {
	return fmt.Sprintf("%s%s/curso?%s=%s&curso=%s", u.Base, ensinoPath, institutionParam, institution, course)
}

// Statistics lists course abbreviations for one degree of an institution.
func (u URLs) Statistics(institution, degree string) string {
	return fmt.Sprintf("%s%s/estat%%EDstica/alunos/evolu%%E7%%E3o?%s=%s&n%%EDvel_acad%%E9mico=%s",
		u.Base, ensinoPath, institutionParam, institution, degree)
}

// Admissions lists the courses with admitted students in a year.
func (u URLs) Admissions(institution string, year int) string {
	return fmt.Sprintf("%s%s/candidaturas?ano_lectivo=%d&%s=%s", u.Base, yearPath, year, institutionParam, institution)
}

// Admitted lists the students placed in a course during one admission phase.
func (u URLs) Admitted(institution string, year, phase int, course string) string {
	return fmt.Sprintf("%s%s/candidaturas/colocados?ano_lectivo=%d&%s=%s&fase=%d&curso=%s",
		u.Base, yearPath, year, institutionParam, institution, phase, course)
}

// Roster is the tab-delimited enrollment dump of a class instance.
func (u URLs) Roster(ci entity.ClassInstance) string {
	p := paramsOf(ci)
	return fmt.Sprintf("%s%s/inscri%%E7%%F5es/pautas?%s=%s&sector=%s&ano_lectivo=%d&%s=%d&%s=%s&unidade_curricular=%s&modo=pauta&aux=ficheiro",
		u.Base, activityPath, periodTypeParam, p.letter, p.department, ci.Year,
		periodParam, p.stage, institutionParam, p.institution, p.class)
}

// Turns lists the turns of a class instance. With a single turn it renders that turn.
func (u URLs) Turns(ci entity.ClassInstance) string {
	p := paramsOf(ci)
	return fmt.Sprintf("%s%s/turnos?unidade_curricular=%s&%s=%s&ano_lectivo=%d&%s=%s&%s=%d&sector=%s",
		u.Base, activityPath, p.class, institutionParam, p.institution, ci.Year,
		periodTypeParam, p.letter, periodParam, p.stage, p.department)
}

// Turn renders one turn of a class instance.
func (u URLs) Turn(ci entity.ClassInstance, turnType string, number int) string {
	return fmt.Sprintf("%s&tipo=%s&n%%BA=%d", u.Turns(ci), turnType, number)
}

// Resolve makes a relative upstream link absolute.
func (u URLs) Resolve(href string) string {
	switch {
	case strings.HasPrefix(href, "http://"), strings.HasPrefix(href, "https://"):
		return href
	case strings.HasPrefix(href, "/"):
		return u.Base + href
	default:
		return u.Base + "/" + href
	}
}

type classParams struct {
	institution string
	department  string
	class       string
	letter      string
	stage       int
}

func paramsOf(ci entity.ClassInstance) classParams {
	var p classParams
	if ci.Period != nil {
		p.letter = ci.Period.Letter
		p.stage = ci.Period.Stage
	}
	if ci.Class == nil {
		return p
	}
	p.class = ci.Class.ExternalID
	if dept := ci.Class.Department; dept != nil {
		p.department = dept.ExternalID
		if dept.Institution != nil {
			p.institution = dept.Institution.ExternalID
		}
	}
	return p
}
