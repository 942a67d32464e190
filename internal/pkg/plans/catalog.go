package plans

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
)

const (
	CycleMonthly = "monthly"
	CycleYearly  = "yearly"

	// DefaultPlanID prices generations for users without an active plan.
	DefaultPlanID = "basic"
)

var (
	ErrPlanNotFound   = errors.New("plans: plan not found")
	ErrUnknownService = errors.New("plans: unknown service")
	ErrInvalidCycle   = errors.New("plans: invalid billing cycle")
	ErrInvalidCatalog = errors.New("plans: invalid catalog")
	ErrPriceNotMapped = errors.New("plans: no gateway price configured")
)

//go:embed plans.json
var defaultCatalog []byte

// CreditCosts is the per-service credit price of one generation.
type CreditCosts struct {
	Copy     int64 `json:"copy"`
	Graphics int64 `json:"graphics"`
	Video    int64 `json:"video"`
	Audio    int64 `json:"audio"`
}

// Plan is an immutable catalog entry. Prices are in cents.
type Plan struct {
	ID                 string      `json:"id"`
	Name               string      `json:"name"`
	Description        string      `json:"description"`
	MonthlyPrice       int64       `json:"monthlyPrice"`
	YearlyPrice        int64       `json:"yearlyPrice"`
	Credits            int64       `json:"credits"`
	MaxGenerations     int         `json:"maxGenerations"`
	MaxTeamMembers     int         `json:"maxTeamMembers,omitempty"`
	Priority           bool        `json:"priority,omitempty"`
	CreditCosts        CreditCosts `json:"creditCosts"`
	Features           []string    `json:"features"`
	StripePriceMonthly string      `json:"stripePriceMonthly,omitempty"`
	StripePriceYearly  string      `json:"stripePriceYearly,omitempty"`
}

// Cost returns the credit cost of one generation of service.
func (p Plan) Cost(service string) (int64, error) {
	switch service {
	case "copy":
		return p.CreditCosts.Copy, nil
	case "graphics":
		return p.CreditCosts.Graphics, nil
	case "video":
		return p.CreditCosts.Video, nil
	case "audio":
		return p.CreditCosts.Audio, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownService, service)
	}
}

// PriceID returns the gateway price for a billing cycle.
func (p Plan) PriceID(cycle string) (string, error) {
	var id string
	switch NormalizeCycle(cycle) {
	case CycleMonthly:
		id = p.StripePriceMonthly
	case CycleYearly:
		id = p.StripePriceYearly
	default:
		return "", ErrInvalidCycle
	}
	if id == "" {
		return "", fmt.Errorf("%w: plan %s (%s)", ErrPriceNotMapped, p.ID, cycle)
	}
	return id, nil
}

// Catalog is a read-only set of plans keyed by ID.
type Catalog struct {
	plans   map[string]Plan
	byPrice map[string]string
	order   []string
}

// Default returns the built-in catalog.
func Default() *Catalog {
	c, err := Parse(defaultCatalog)
	if err != nil {
		panic(err)
	}
	return c
}

// Load reads a catalog from path, or the built-in one when path is empty.
func Load(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return Parse(defaultCatalog)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plans file %s: %w", path, err)
	}
	return Parse(data)
}

// Parse builds a catalog from a JSON array of plans.
func Parse(data []byte) (*Catalog, error) {
	var list []Plan
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("%w: no plans", ErrInvalidCatalog)
	}

	c := &Catalog{
		plans:   make(map[string]Plan, len(list)),
		byPrice: make(map[string]string),
	}
	for _, p := range list {
		p.ID = strings.ToLower(strings.TrimSpace(p.ID))
		if p.ID == "" {
			return nil, fmt.Errorf("%w: plan without id", ErrInvalidCatalog)
		}
		if _, dup := c.plans[p.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate plan %q", ErrInvalidCatalog, p.ID)
		}
		if p.Credits < 0 {
			return nil, fmt.Errorf("%w: plan %q has negative credits", ErrInvalidCatalog, p.ID)
		}
		c.plans[p.ID] = p
		c.order = append(c.order, p.ID)
		c.indexPrices(p)
	}
	return c, nil
}

func (c *Catalog) indexPrices(p Plan) {
	if p.StripePriceMonthly != "" {
		c.byPrice[p.StripePriceMonthly] = p.ID
	}
	if p.StripePriceYearly != "" {
		c.byPrice[p.StripePriceYearly] = p.ID
	}
}

// WithPrices returns a copy of the catalog with gateway price IDs looked up
// through lookup(key), where key is STRIPE_PRICE_<PLAN>_<CYCLE>.
func (c *Catalog) WithPrices(lookup func(key string) string) *Catalog {
	out := &Catalog{
		plans:   make(map[string]Plan, len(c.plans)),
		byPrice: make(map[string]string),
		order:   append([]string(nil), c.order...),
	}
	for _, id := range c.order {
		p := c.plans[id]
		upper := strings.ToUpper(id)
		if v := strings.TrimSpace(lookup("STRIPE_PRICE_" + upper + "_MONTHLY")); v != "" {
			p.StripePriceMonthly = v
		}
		if v := strings.TrimSpace(lookup("STRIPE_PRICE_" + upper + "_YEARLY")); v != "" {
			p.StripePriceYearly = v
		}
		out.plans[id] = p
		out.indexPrices(p)
	}
	return out
}

// Get returns a plan by ID.
func (c *Catalog) Get(id string) (Plan, error) {
	p, ok := c.plans[strings.ToLower(strings.TrimSpace(id))]
	if !ok {
		return Plan{}, fmt.Errorf("%w: %q", ErrPlanNotFound, id)
	}
	return p, nil
}

// ByPriceID resolves a gateway price ID to its plan.
func (c *Catalog) ByPriceID(priceID string) (Plan, error) {
	id, ok := c.byPrice[strings.TrimSpace(priceID)]
	if !ok {
		return Plan{}, fmt.Errorf("%w: price %q", ErrPlanNotFound, priceID)
	}
	return c.plans[id], nil
}

// List returns the plans in catalog order.
func (c *Catalog) List() []Plan {
	out := make([]Plan, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.plans[id])
	}
	return out
}

// CreditCost returns the cost of one generation for planID, falling back to
// the default plan when planID is empty or unknown.
func (c *Catalog) CreditCost(planID, service string) (int64, error) {
	p, err := c.Get(planID)
	if err != nil {
		p, err = c.Get(DefaultPlanID)
		if err != nil {
			return 0, err
		}
	}
	return p.Cost(service)
}

// IDs returns plan IDs sorted alphabetically.
func (c *Catalog) IDs() []string {
	ids := append([]string(nil), c.order...)
	sort.Strings(ids)
	return ids
}

// NormalizeCycle maps gateway and user spellings onto monthly/yearly.
func NormalizeCycle(cycle string) string {
	switch strings.ToLower(strings.TrimSpace(cycle)) {
	case "monthly", "month", "":
		return CycleMonthly
	case "yearly", "year", "annual", "annually":
		return CycleYearly
	default:
		return ""
	}
}
