package catalog

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSearch(t *testing.T) {
	products := []Product{
		{ID: "1", Name: "Anker PowerCore", Category: "Power Banks", CategorySlug: "power-banks", Tags: []string{"usb-c"}},
		{ID: "2", Name: "Baseus Cable", Category: "Cables", CategorySlug: "cables", Manufacturer: "Baseus"},
		{ID: "3", Name: "iPhone 15", Category: "Mobile Phones", CategorySlug: "mobile-phones", SKU: "APL-15"},
	}

	ids := func(ps []Product) []string {
		out := make([]string, 0, len(ps))
		for _, p := range ps {
			out = append(out, p.ID)
		}
		return out
	}

	require.Equal(t, []string{"1"}, ids(Search(products, "POWER")))
	require.Equal(t, []string{"1"}, ids(Search(products, "usb c")))
	require.Equal(t, []string{"2"}, ids(Search(products, "baseus cable")))
	require.Equal(t, []string{"3"}, ids(Search(products, "apl")))
	require.Empty(t, Search(products, "nothing"))
	require.Nil(t, Search(products, "   "))

	require.Equal(t, []string{"2"}, ids(FilterByCategory(products, "cables")))
	require.Len(t, FilterByCategory(products, ""), 3)

	p, ok := FindByID(products, "3")
	require.True(t, ok)
	require.Equal(t, "iPhone 15", p.Name)
	_, ok = FindByID(products, "9")
	require.False(t, ok)
}

func TestFeatured(t *testing.T) {
	cats := []Category{{ID: "1"}, {ID: "2", Featured: true}, {ID: "3", Featured: true}}
	require.Equal(t, []Category{{ID: "2", Featured: true}}, Featured(cats, 1))
	require.Len(t, Featured([]Category{{ID: "1"}, {ID: "2"}}, 5), 2)
}
