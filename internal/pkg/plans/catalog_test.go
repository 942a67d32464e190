package plans

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalog(t *testing.T) {
	c := Default()

	tests := []struct {
		id       string
		credits  int64
		monthly  int64
		video    int64
		audio    int64
		features int
	}{
		{"basic", 100, 2999, 10, 2, 4},
		{"pro", 500, 9999, 8, 2, 5},
		{"enterprise", 2000, 29999, 5, 1, 7},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			p, err := c.Get(tt.id)
			require.NoError(t, err)
			assert.Equal(t, tt.credits, p.Credits)
			assert.Equal(t, tt.monthly, p.MonthlyPrice)
			assert.Equal(t, tt.monthly*10, p.YearlyPrice)
			assert.Len(t, p.Features, tt.features)

			video, err := p.Cost("video")
			require.NoError(t, err)
			assert.Equal(t, tt.video, video)

			audio, err := p.Cost("audio")
			require.NoError(t, err)
			assert.Equal(t, tt.audio, audio)
		})
	}

	assert.Equal(t, []string{"basic", "enterprise", "pro"}, c.IDs())
	assert.Len(t, c.List(), 3)
	assert.Equal(t, "basic", c.List()[0].ID)
}

func TestGetUnknownPlan(t *testing.T) {
	_, err := Default().Get("platinum")
	assert.True(t, errors.Is(err, ErrPlanNotFound))
}

func TestCreditCostFallsBackToDefaultPlan(t *testing.T) {
	c := Default()

	cost, err := c.CreditCost("", "video")
	require.NoError(t, err)
	assert.Equal(t, int64(10), cost)

	cost, err = c.CreditCost("enterprise", "video")
	require.NoError(t, err)
	assert.Equal(t, int64(5), cost)

	_, err = c.CreditCost("pro", "podcast")
	assert.True(t, errors.Is(err, ErrUnknownService))
}

func TestWithPricesResolvesStableIDs(t *testing.T) {
	prices := map[string]string{
		"STRIPE_PRICE_PRO_MONTHLY":   "price_pro_m",
		"STRIPE_PRICE_PRO_YEARLY":    "price_pro_y",
		"STRIPE_PRICE_BASIC_MONTHLY": "price_basic_m",
	}
	c := Default().WithPrices(func(key string) string { return prices[key] })

	p, err := c.ByPriceID("price_pro_y")
	require.NoError(t, err)
	assert.Equal(t, "pro", p.ID)

	id, err := p.PriceID("year")
	require.NoError(t, err)
	assert.Equal(t, "price_pro_y", id)

	basic, err := c.Get("basic")
	require.NoError(t, err)
	_, err = basic.PriceID(CycleYearly)
	assert.True(t, errors.Is(err, ErrPriceNotMapped))

	_, err = basic.PriceID("weekly")
	assert.True(t, errors.Is(err, ErrInvalidCycle))

	_, err = Default().ByPriceID("price_pro_y")
	assert.True(t, errors.Is(err, ErrPlanNotFound), "original catalog must stay untouched")
}

func TestParseRejectsInvalidCatalogs(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", "{"},
		{"empty", "[]"},
		{"missing id", `[{"name":"x"}]`},
		{"duplicate", `[{"id":"a"},{"id":"A"}]`},
		{"negative credits", `[{"id":"a","credits":-1}]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			assert.True(t, errors.Is(err, ErrInvalidCatalog))
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plans.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"id":"solo","credits":10,"creditCosts":{"copy":3}}]`), 0o600))

	c, err := Load(path)
	require.NoError(t, err)

	cost, err := c.CreditCost("solo", "copy")
	require.NoError(t, err)
	assert.Equal(t, int64(3), cost)

	_, err = Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestNormalizeCycle(t *testing.T) {
	tests := map[string]string{
		"monthly": CycleMonthly,
		"Month":   CycleMonthly,
		"":        CycleMonthly,
		"yearly":  CycleYearly,
		"year":    CycleYearly,
		"annual":  CycleYearly,
		"weekly":  "",
	}
	for in, want := range tests {
		if got := NormalizeCycle(in); got != want {
			t.Fatalf("NormalizeCycle(%q) = %q, want %q", in, got, want)
		}
	}
}
