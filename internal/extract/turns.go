package extract

import (
	"regexp"
	"strconv"

	"github.com/JakeFAU/clip-harvester/internal/clip"
)

// TurnRef addresses one turn of a class instance.
type TurnRef struct {
	Type   string
	Number int
}

var (
	turnExp = regexp.MustCompile(`\btipo=(\w+)&n%BA=(\d+)\b`)
	fileExp = regexp.MustCompile(`\baux=ficheiro\b`)
)

// TurnLinks decides whether a class instance page lists turns or already is the only turn.
// A file download link appears only on single turn pages; its href names the turn.
func TurnLinks(doc *Document) (single bool, refs []TurnRef, err error) {
	if files := doc.Links(fileExp); len(files) > 0 {
		for _, file := range files {
			if m := turnExp.FindStringSubmatch(file.Href); m != nil {
				ref, err := turnRef(m)
				if err != nil {
					return true, nil, clip.ParseError("extract.TurnLinks", doc.URL, "turn number: %w", err)
				}
				return true, []TurnRef{ref}, nil
			}
		}
		return true, nil, clip.ParseError("extract.TurnLinks", doc.URL, "single turn page without a turn reference")
	}

	seen := make(map[TurnRef]struct{})
	for _, link := range doc.Links(turnExp) {
		ref, err := turnRef(link.Match)
		if err != nil {
			continue
		}
		if _, ok := seen[ref]; ok {
			continue
		}
		seen[ref] = struct{}{}
		refs = append(refs, ref)
	}
	return false, refs, nil
}

func turnRef(m []string) (TurnRef, error) {
	n, err := strconv.Atoi(m[2])
	if err != nil {
		return TurnRef{}, err
	}
	return TurnRef{Type: m[1], Number: n}, nil
}
