package adapter

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saline-motors/truckwatch/internal/model"
)

type fakeAdapter struct {
	name string
}

func (f *fakeAdapter) Name() string { return f.name }
func (f *fakeAdapter) Fetch(ctx context.Context) ([]model.RawListing, error) {
	return nil, nil
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeAdapter{name: "craigslist"})
	r.Register(&fakeAdapter{name: "facebook"})

	a, err := r.Get("craigslist")
	require.NoError(t, err)
	assert.Equal(t, "craigslist", a.Name())

	_, err = r.Get("ebay")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown source "ebay"`)
}

func TestRegistryOrder(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeAdapter{name: "craigslist"})
	r.Register(&fakeAdapter{name: "facebook"})

	assert.Equal(t, []string{"craigslist", "facebook"}, r.AllNames())

	all := r.All()
	require.Len(t, all, 2)
	assert.Equal(t, "craigslist", all[0].Name())
}

func TestRegistrySelect(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeAdapter{name: "craigslist"})
	r.Register(&fakeAdapter{name: "facebook"})

	all, err := r.Select(nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	some, err := r.Select([]string{"facebook"})
	require.NoError(t, err)
	require.Len(t, some, 1)
	assert.Equal(t, "facebook", some[0].Name())

	_, err = r.Select([]string{"ebay"})
	assert.Error(t, err)
}

func TestLoadPlan(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
regions:
  - detroit
  - annarbor
queries:
  - truck
min_year: 2015
fetch_details: true
`), 0o644))

	plan, err := LoadPlan(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"detroit", "annarbor"}, plan.Regions)
	assert.Equal(t, []string{"truck"}, plan.Queries)
	assert.Equal(t, 2015, plan.MinYear)
	assert.True(t, plan.FetchDetails)
	assert.Equal(t, 2026, plan.MaxYear, "unset fields keep defaults")
	assert.Equal(t, "48176", plan.Postal)
	assert.Equal(t, 4, plan.Concurrency)
}

func TestLoadPlanMissingFile(t *testing.T) {
	_, err := LoadPlan(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestDefaultPlan(t *testing.T) {
	plan := DefaultPlan()
	assert.Contains(t, plan.Regions, "detroit")
	assert.Contains(t, plan.Queries, "truck")
	assert.False(t, plan.FetchDetails)
}
