package extract

import (
	"regexp"
	"sort"
	"strconv"

	"github.com/JakeFAU/clip-harvester/internal/entity"
)

var (
	institutionExp   = regexp.MustCompile(`institui%E7%E3o=(\d+)$`)
	yearExp          = regexp.MustCompile(`\bano_lectivo=(\d{4})\b`)
	departmentExp    = regexp.MustCompile(`\bsector=(\d+)\b`)
	periodTypeExp    = regexp.MustCompile(`tipo_de_per%EDodo_lectivo=([a-z])\b`)
	periodStageExp   = regexp.MustCompile(`[?&]per%EDodo_lectivo=(\d+)\b`)
	classExp         = regexp.MustCompile(`\bunidade_curricular=(\d+)\b`)
	courseExp        = regexp.MustCompile(`\bcurso=(\d+)\b`)
	admissionCourses = regexp.MustCompile(`\bcurso=(\d+)$`)
	studentExp       = regexp.MustCompile(`\baluno=(\d+)\b`)
)

// Institutions extracts the institution list from the root listing.
func Institutions(doc *Document) []entity.Institution {
	seen := make(map[string]struct{})
	var out []entity.Institution
	for _, link := range doc.Links(institutionExp) {
		id := link.Match[1]
		if _, ok := seen[id]; ok || link.Text == "" {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, entity.NewInstitution(id, link.Text))
	}
	return out
}

// Years extracts every academic year linked from the page, ascending.
func Years(doc *Document) []int {
	seen := make(map[int]struct{})
	var out []int
	for _, link := range doc.Links(yearExp) {
		year, err := strconv.Atoi(link.Match[1])
		if err != nil {
			continue
		}
		if _, ok := seen[year]; ok {
			continue
		}
		seen[year] = struct{}{}
		out = append(out, year)
	}
	sort.Ints(out)
	return out
}

// Departments extracts department links. Institution and years are left to the caller.
func Departments(doc *Document) []entity.Department {
	seen := make(map[string]struct{})
	var out []entity.Department
	for _, link := range doc.Links(departmentExp) {
		id := link.Match[1]
		if _, ok := seen[id]; ok || link.Text == "" {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, entity.Department{Identity: entity.Identity{ExternalID: id}, Name: link.Text})
	}
	return out
}

// Periods extracts the (type letter, stage) pairs a department page links to.
func Periods(doc *Document) []entity.PeriodKey {
	seen := make(map[entity.PeriodKey]struct{})
	var out []entity.PeriodKey
	for _, link := range doc.Links(periodTypeExp) {
		stage := periodStageExp.FindStringSubmatch(link.Href)
		if stage == nil {
			continue
		}
		n, err := strconv.Atoi(stage[1])
		if err != nil {
			continue
		}
		key := entity.PeriodKey{Letter: link.Match[1], Stage: n}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	return out
}

// Classes extracts class links of a period listing.
func Classes(doc *Document) []entity.Class {
	seen := make(map[string]struct{})
	var out []entity.Class
	for _, link := range doc.Links(classExp) {
		id := link.Match[1]
		if _, ok := seen[id]; ok || link.Text == "" {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, entity.Class{Identity: entity.Identity{ExternalID: id}, Name: link.Text})
	}
	return out
}

// Courses extracts the course list of an institution.
func Courses(doc *Document) []entity.Course {
	seen := make(map[string]struct{})
	var out []entity.Course
	for _, link := range doc.Links(courseExp) {
		id := link.Match[1]
		if _, ok := seen[id]; ok || link.Text == "" {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, entity.Course{Identity: entity.Identity{ExternalID: id}, Name: link.Text})
	}
	return out
}

// CourseAbbreviations maps course external ids to the abbreviation shown on a statistics page.
func CourseAbbreviations(doc *Document) map[string]string {
	out := make(map[string]string)
	for _, link := range doc.Links(courseExp) {
		if link.Text == "" {
			continue
		}
		out[link.Match[1]] = link.Text
	}
	return out
}

// AdmissionCourses lists the external ids of courses with admitted students.
func AdmissionCourses(doc *Document) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, link := range doc.Links(admissionCourses) {
		id := link.Match[1]
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// Students extracts the student links of a turn page.
func Students(doc *Document) []entity.Student {
	seen := make(map[string]struct{})
	var out []entity.Student
	for _, link := range doc.Links(studentExp) {
		id := link.Match[1]
		if _, ok := seen[id]; ok || link.Text == "" {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, entity.Student{Identity: entity.Identity{ExternalID: id}, Name: link.Text})
	}
	return out
}
