package normalize

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// makeEntry describes one known truck manufacturer and its model variants.
// Model aliases are matched longest-first so compound names like
// "silverado 1500" win over the bare "1500" variant.
type makeEntry struct {
	canonical string
	aliases   []string
	models    []string
}

// makeTable lists the consumer pickup makes and models the normalizer
// recognizes. Canonical display names that simple title-casing would get
// wrong carry an explicit canonical field.
var makeTable = []makeEntry{
	{canonical: "Ford", aliases: []string{"ford"},
		models: []string{"f-150", "f150", "f-250", "f250", "f-350", "f350", "ranger", "maverick", "lightning"}},
	{canonical: "Chevrolet", aliases: []string{"chevrolet", "chevy"},
		models: []string{"silverado 1500", "silverado 2500", "silverado 3500", "silverado", "colorado", "avalanche", "s-10", "s10", "1500", "2500", "3500"}},
	{canonical: "GMC", aliases: []string{"gmc"},
		models: []string{"sierra 1500", "sierra 2500", "sierra 3500", "sierra", "canyon", "1500", "2500", "3500"}},
	{canonical: "Ram", aliases: []string{"ram"},
		models: []string{"1500", "2500", "3500"}},
	{canonical: "Dodge", aliases: []string{"dodge"},
		models: []string{"ram 1500", "ram 2500", "ram 3500", "ram", "dakota"}},
	{canonical: "Toyota", aliases: []string{"toyota"},
		models: []string{"tacoma", "tundra"}},
	{canonical: "Nissan", aliases: []string{"nissan"},
		models: []string{"frontier", "titan"}},
	{canonical: "Honda", aliases: []string{"honda"},
		models: []string{"ridgeline"}},
	{canonical: "Jeep", aliases: []string{"jeep"},
		models: []string{"gladiator", "wrangler"}},
}

var titleCaser = cases.Title(language.English)

// modelAliasDisplay folds spelling variants onto one display form so
// "F150" and "F-150" postings land on the same dedup hash.
var modelAliasDisplay = map[string]string{
	"f150": "F-150",
	"f250": "F-250",
	"f350": "F-350",
	"s10":  "S-10",
}

// modelDisplay converts a matched model alias into its display form:
// variants containing digits are upper-cased ("f-150" -> "F-150",
// "silverado 1500" -> title-cased per word), others title-cased.
func modelDisplay(alias string) string {
	if d, ok := modelAliasDisplay[alias]; ok {
		return d
	}
	words := strings.Fields(alias)
	for i, w := range words {
		if strings.ContainsAny(w, "0123456789") {
			words[i] = strings.ToUpper(w)
		} else {
			words[i] = titleCaser.String(w)
		}
	}
	return strings.Join(words, " ")
}

// wordPattern compiles a case-insensitive word-boundary matcher for an alias.
func wordPattern(alias string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(alias) + `\b`)
}

// compiled matchers, built once. Make aliases and each make's model aliases
// are ordered longest-first so the most specific variant matches.
var (
	makeMatchers  []makeMatcher
	modelMatchers map[string][]modelMatcher
)

type makeMatcher struct {
	canonical string
	re        *regexp.Regexp
}

type modelMatcher struct {
	display string
	re      *regexp.Regexp
}

func init() {
	modelMatchers = make(map[string][]modelMatcher, len(makeTable))
	for _, entry := range makeTable {
		aliases := append([]string(nil), entry.aliases...)
		sortLongestFirst(aliases)
		for _, a := range aliases {
			makeMatchers = append(makeMatchers, makeMatcher{canonical: entry.canonical, re: wordPattern(a)})
		}

		models := append([]string(nil), entry.models...)
		sortLongestFirst(models)
		ms := make([]modelMatcher, 0, len(models))
		for _, m := range models {
			ms = append(ms, modelMatcher{display: modelDisplay(m), re: wordPattern(m)})
		}
		modelMatchers[entry.canonical] = append(modelMatchers[entry.canonical], ms...)
	}
}

func sortLongestFirst(ss []string) {
	for i := 1; i < len(ss); i++ {
		for j := i; j > 0 && len(ss[j]) > len(ss[j-1]); j-- {
			ss[j], ss[j-1] = ss[j-1], ss[j]
		}
	}
}

// conditionLevels orders condition keywords strongest-first. The first level
// with any keyword present in the description wins; levels below it are
// ignored so a listing never reports both "excellent" and "good".
var conditionLevels = []struct {
	level    string
	keywords []string
}{
	{"excellent", []string{"excellent", "like new", "mint", "pristine", "immaculate", "showroom"}},
	{"very good", []string{"very good", "great condition", "well maintained", "garage kept"}},
	{"good", []string{"good condition", "nice", "solid"}},
	{"fair", []string{"fair condition", "average", "okay"}},
	{"poor", []string{"poor condition", "rough", "project"}},
}

// maintenanceKeywords are positive upkeep indicators, scanned in order.
var maintenanceKeywords = []string{
	"new tires", "new brakes", "new battery", "new transmission",
	"new engine", "fresh paint", "oil change", "recent service",
	"just serviced", "tune up", "timing belt", "spark plugs",
	"air filter", "fuel filter", "fluids changed", "dealer maintained",
}

// issueKeywords are damage or defect indicators, scanned in order.
var issueKeywords = []string{
	"rust", "dent", "scratch", "crack", "damage",
	"accident", "salvage", "rebuilt title", "flood",
	"check engine", "warning light", "needs repair", "needs work",
	"bad transmission", "bad engine", "not working", "broken",
	"as-is", "as is",
}

// serviceKeywords indicate documented history, scanned in order.
var serviceKeywords = []string{
	"carfax", "autocheck", "service records", "maintenance records",
	"receipts", "full service history", "one owner", "original owner",
	"clean title", "clear title",
}
