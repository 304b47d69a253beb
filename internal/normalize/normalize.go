package normalize

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/saline-motors/truckwatch/internal/model"
)

// Normalize derives a canonical VehicleListing from a raw candidate. It is
// total: unparseable optional fields are left nil, never errors.
func Normalize(raw model.RawListing) model.VehicleListing {
	l := model.VehicleListing{
		Source:       raw.Source,
		SourceID:     raw.SourceID,
		URL:          raw.URL,
		Title:        strings.TrimSpace(raw.Title),
		Description:  raw.Description,
		Price:        raw.Price,
		Mileage:      raw.Mileage,
		Location:     raw.Location,
		Region:       raw.Region,
		Drivetrain:   raw.Drivetrain,
		Transmission: raw.Transmission,
		FuelType:     raw.FuelType,
		Condition:    raw.Condition,
		TitleStatus:  raw.TitleStatus,
		PaintColor:   raw.PaintColor,
		BodyStyle:    raw.BodyStyle,
		SellerType:   raw.SellerType,
	}

	if raw.Year != nil {
		l.Year = raw.Year
	} else {
		l.Year = ExtractYear(l.Title)
	}

	l.Make, l.Model = ExtractMakeModel(l.Title)

	if l.Mileage == nil {
		l.Mileage = ParseMileage(l.Title)
	}

	classifyDescription(&l)

	return l
}

var yearTokenRe = regexp.MustCompile(`\b(\d{4})\b`)

// ExtractYear returns the first 4-digit token in [1900, current year+1]
// found in the text, or nil.
func ExtractYear(text string) *int {
	maxYear := time.Now().Year() + 1
	for _, m := range yearTokenRe.FindAllString(text, -1) {
		y, err := strconv.Atoi(m)
		if err != nil {
			continue
		}
		if y >= 1900 && y <= maxYear {
			return &y
		}
	}
	return nil
}

// ExtractMakeModel matches the text against the known-make table, then the
// matched make's model variants (longest alias first). Either may be nil.
func ExtractMakeModel(text string) (*string, *string) {
	var mk, mdl *string
	for _, m := range makeMatchers {
		if m.re.MatchString(text) {
			c := m.canonical
			mk = &c
			break
		}
	}
	if mk == nil {
		return nil, nil
	}
	for _, m := range modelMatchers[*mk] {
		if m.re.MatchString(text) {
			d := m.display
			mdl = &d
			break
		}
	}
	return mk, mdl
}

var mileageRe = regexp.MustCompile(`(?i)(\d[\d,]*(?:\.\d+)?)\s*(k?)\s*(?:miles?|mi)\b`)

// ParseMileage finds the first numeric token followed by a mile(s)/mi unit
// marker. A k/K suffix multiplies by 1000. Returns nil when not found.
func ParseMileage(text string) *int {
	m := mileageRe.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	num := strings.ReplaceAll(m[1], ",", "")
	v, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return nil
	}
	if strings.EqualFold(m[2], "k") {
		v *= 1000
	}
	miles := int(v)
	if miles < 0 {
		return nil
	}
	return &miles
}

var priceCleanRe = regexp.MustCompile(`[$,\s]`)

// ParsePrice strips the currency symbol and thousands separators from a
// source price field. Returns nil for empty or unparseable input; absence
// is distinct from zero.
func ParsePrice(s string) *int {
	clean := priceCleanRe.ReplaceAllString(strings.TrimSpace(s), "")
	if clean == "" {
		return nil
	}
	v, err := strconv.ParseFloat(clean, 64)
	if err != nil || v < 0 {
		return nil
	}
	p := int(v)
	return &p
}

var (
	stateSuffixRe = regexp.MustCompile(`,\s*[a-z]{2}$`)
	spaceRunRe    = regexp.MustCompile(`\s+`)
)

// NormalizeLocation lowercases, trims, collapses whitespace, and strips a
// trailing two-letter state suffix so "Detroit" and "Detroit, MI" compare
// equal for dedup purposes.
func NormalizeLocation(loc string) string {
	s := strings.ToLower(strings.TrimSpace(loc))
	s = spaceRunRe.ReplaceAllString(s, " ")
	s = stateSuffixRe.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

// classifyDescription fills the derived tag fields from the description.
// Each category scans its own keyword table; matches are collected in table
// order and comma-joined. Condition reports only the strongest matched
// level. SellerNotes always carries the original description.
func classifyDescription(l *model.VehicleListing) {
	if l.Description == nil || strings.TrimSpace(*l.Description) == "" {
		return
	}
	desc := strings.ToLower(*l.Description)

	for _, lvl := range conditionLevels {
		if containsAny(desc, lvl.keywords) {
			v := lvl.level
			l.ConditionNotes = &v
			break
		}
	}

	if tags := matchKeywords(desc, maintenanceKeywords); tags != "" {
		l.MaintenanceNotes = &tags
	}
	if tags := matchKeywords(desc, issueKeywords); tags != "" {
		l.KnownIssues = &tags
	}
	if tags := matchKeywords(desc, serviceKeywords); tags != "" {
		l.ServiceRecords = &tags
	}

	notes := *l.Description
	l.SellerNotes = &notes
}

// matchKeywords returns every keyword present in the text, in table order,
// joined with ", ". Empty string when nothing matched.
func matchKeywords(text string, table []string) string {
	var matched []string
	for _, kw := range table {
		if strings.Contains(text, kw) {
			matched = append(matched, kw)
		}
	}
	return strings.Join(matched, ", ")
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}
