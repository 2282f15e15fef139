package store

import "github.com/JakeFAU/clip-harvester/internal/entity"

// Reference rows that upstream never lists explicitly. Backends seed these on
// migration; internal ids are fixed so both backends agree.

// SeedPeriods lists the calendar slots of an academic year.
var SeedPeriods = []entity.Period{
	{ID: 1, Stage: 1, Stages: 1, Letter: entity.PeriodAnnual, StartMonth: 9, EndMonth: 7},
	{ID: 2, Stage: 1, Stages: 2, Letter: entity.PeriodSemester, StartMonth: 9, EndMonth: 1},
	{ID: 3, Stage: 2, Stages: 2, Letter: entity.PeriodSemester, StartMonth: 2, EndMonth: 7},
	{ID: 4, Stage: 1, Stages: 3, Letter: entity.PeriodTrimester, StartMonth: 9, EndMonth: 12},
	{ID: 5, Stage: 2, Stages: 3, Letter: entity.PeriodTrimester, StartMonth: 1, EndMonth: 3},
	{ID: 6, Stage: 3, Stages: 3, Letter: entity.PeriodTrimester, StartMonth: 4, EndMonth: 7},
	{ID: 7, Stage: 1, Stages: 3, Letter: entity.PeriodFourMonths, StartMonth: 9, EndMonth: 12},
	{ID: 8, Stage: 2, Stages: 3, Letter: entity.PeriodFourMonths, StartMonth: 1, EndMonth: 4},
	{ID: 9, Stage: 3, Stages: 3, Letter: entity.PeriodFourMonths, StartMonth: 5, EndMonth: 8},
}

// SeedDegrees lists the degree kinds offered by the statistics listing.
var SeedDegrees = []entity.Degree{
	{Identity: entity.Identity{ID: 1, ExternalID: "L"}, Name: "Licenciatura"},
	{Identity: entity.Identity{ID: 2, ExternalID: "M"}, Name: "Mestrado"},
	{Identity: entity.Identity{ID: 3, ExternalID: "D"}, Name: "Doutoramento"},
	{Identity: entity.Identity{ID: 4, ExternalID: "MI"}, Name: "Mestrado Integrado"},
	{Identity: entity.Identity{ID: 5, ExternalID: "PG"}, Name: "Pós-Graduação"},
}

// SeedTurnTypes lists session kinds keyed by the abbreviation used in turn links.
var SeedTurnTypes = []entity.TurnType{
	{ID: 1, Abbreviation: "t", Name: "Teórico"},
	{ID: 2, Abbreviation: "p", Name: "Prático"},
	{ID: 3, Abbreviation: "tp", Name: "Teórico-Prático"},
	{ID: 4, Abbreviation: "ot", Name: "Orientação Tutorial"},
	{ID: 5, Abbreviation: "s", Name: "Seminário"},
}

// SeedWeekdays lists the Portuguese weekday names as printed in schedules.
var SeedWeekdays = []entity.Weekday{
	{ID: 1, Name: "Segunda-feira"},
	{ID: 2, Name: "Terça-feira"},
	{ID: 3, Name: "Quarta-feira"},
	{ID: 4, Name: "Quinta-feira"},
	{ID: 5, Name: "Sexta-feira"},
	{ID: 6, Name: "Sábado"},
	{ID: 7, Name: "Domingo"},
}
