package adapter

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// SearchPlan describes which craigslist regions and queries a run covers.
// The generic "truck" query casts a wide net; make/model queries surface
// listings the generic search misses.
type SearchPlan struct {
	Regions        []string `yaml:"regions"`
	Queries        []string `yaml:"queries"`
	MinYear        int      `yaml:"min_year"`
	MaxYear        int      `yaml:"max_year"`
	SearchDistance int      `yaml:"search_distance"`
	Postal         string   `yaml:"postal"`
	// FetchDetails pulls each listing's posting page for the description
	// and attribute table. Slower by one request per listing.
	FetchDetails bool `yaml:"fetch_details"`
	// Concurrency bounds parallel region fetches.
	Concurrency int `yaml:"concurrency"`
}

// DefaultPlan covers southeast Michigan pickups, matching the regions the
// watcher was built for.
func DefaultPlan() SearchPlan {
	return SearchPlan{
		Regions: []string{"detroit", "annarbor", "lansing", "toledo", "saginaw", "jackson", "flint"},
		Queries: []string{
			"truck",
			"nissan frontier",
			"toyota tacoma",
			"ford f-150",
			"chevrolet silverado",
			"ram 1500",
			"ford ranger",
			"toyota tundra",
			"chevrolet colorado",
			"gmc canyon",
		},
		MinYear:        2011,
		MaxYear:        2026,
		SearchDistance: 100,
		Postal:         "48176",
		Concurrency:    4,
	}
}

// LoadPlan reads a search plan from a YAML file. Unset fields fall back
// to the default plan's values.
func LoadPlan(path string) (SearchPlan, error) {
	plan := DefaultPlan()

	data, err := os.ReadFile(path)
	if err != nil {
		return plan, eris.Wrapf(err, "adapter: read search plan %s", path)
	}

	var loaded SearchPlan
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return plan, eris.Wrapf(err, "adapter: parse search plan %s", path)
	}

	if len(loaded.Regions) > 0 {
		plan.Regions = loaded.Regions
	}
	if len(loaded.Queries) > 0 {
		plan.Queries = loaded.Queries
	}
	if loaded.MinYear > 0 {
		plan.MinYear = loaded.MinYear
	}
	if loaded.MaxYear > 0 {
		plan.MaxYear = loaded.MaxYear
	}
	if loaded.SearchDistance > 0 {
		plan.SearchDistance = loaded.SearchDistance
	}
	if loaded.Postal != "" {
		plan.Postal = loaded.Postal
	}
	if loaded.Concurrency > 0 {
		plan.Concurrency = loaded.Concurrency
	}
	plan.FetchDetails = loaded.FetchDetails

	return plan, nil
}
