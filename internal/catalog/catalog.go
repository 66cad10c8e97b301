// Package catalog holds the read-only reference data target planning runs
// against: regions, channels, dealer types, SKUs, customers and users.
package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"salestarget/backend/internal/domain"
	"salestarget/backend/internal/valuation"
)

//go:embed demo.yaml
var demoYAML []byte

type Data struct {
	Regions     []domain.Region     `json:"regions" yaml:"regions"`
	Channels    []domain.Channel    `json:"channels" yaml:"channels"`
	DealerTypes []domain.DealerType `json:"dealer_types" yaml:"dealer_types"`
	SKUs        []domain.SKU        `json:"skus" yaml:"skus"`
	Customers   []domain.Customer   `json:"customers" yaml:"customers"`
	Users       []domain.User       `json:"users" yaml:"users"`
}

type Catalog struct {
	data        Data
	regions     map[string]domain.Region
	channels    map[string]domain.Channel
	dealerTypes map[string]domain.DealerType
	skus        map[string]domain.SKU
	customers   map[string]domain.Customer
	users       map[string]domain.User
}

func Load(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(raw)
}

func Parse(raw []byte) (*Catalog, error) {
	var data Data
	if err := yaml.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	return New(data)
}

// Demo returns the bundled demo catalog used when no CATALOG_PATH is set.
func Demo() *Catalog {
	c, err := Parse(demoYAML)
	if err != nil {
		panic(fmt.Sprintf("demo catalog: %v", err))
	}
	return c
}

func New(data Data) (*Catalog, error) {
	c := &Catalog{
		data:        data,
		regions:     make(map[string]domain.Region, len(data.Regions)),
		channels:    make(map[string]domain.Channel, len(data.Channels)),
		dealerTypes: make(map[string]domain.DealerType, len(data.DealerTypes)),
		skus:        make(map[string]domain.SKU, len(data.SKUs)),
		customers:   make(map[string]domain.Customer, len(data.Customers)),
		users:       make(map[string]domain.User, len(data.Users)),
	}

	for _, r := range data.Regions {
		if err := addUnique(c.regions, "region", r.ID, r); err != nil {
			return nil, err
		}
	}
	for _, ch := range data.Channels {
		if err := addUnique(c.channels, "channel", ch.ID, ch); err != nil {
			return nil, err
		}
	}
	for _, dt := range data.DealerTypes {
		if err := addUnique(c.dealerTypes, "dealer type", dt.ID, dt); err != nil {
			return nil, err
		}
	}

	pricer := valuation.NewEngine()
	for _, sku := range data.SKUs {
		if err := addUnique(c.skus, "sku", sku.ID, sku); err != nil {
			return nil, err
		}
		if err := pricer.Check(sku); err != nil {
			return nil, fmt.Errorf("sku %s: %w", sku.ID, err)
		}
	}

	for _, u := range data.Users {
		if err := addUnique(c.users, "user", u.ID, u); err != nil {
			return nil, err
		}
		if u.Role.Rank() == 0 {
			return nil, fmt.Errorf("user %s: unknown role %q", u.ID, u.Role)
		}
	}
	for _, u := range data.Users {
		if u.ManagerID != "" {
			if _, ok := c.users[u.ManagerID]; !ok {
				return nil, fmt.Errorf("user %s: unknown manager %q", u.ID, u.ManagerID)
			}
		}
		if u.RegionID != "" {
			if _, ok := c.regions[u.RegionID]; !ok {
				return nil, fmt.Errorf("user %s: unknown region %q", u.ID, u.RegionID)
			}
		}
		if _, err := c.managerChain(u.ID); err != nil {
			return nil, err
		}
	}

	for _, cust := range data.Customers {
		if err := addUnique(c.customers, "customer", cust.ID, cust); err != nil {
			return nil, err
		}
		if _, ok := c.regions[cust.RegionID]; !ok {
			return nil, fmt.Errorf("customer %s: unknown region %q", cust.ID, cust.RegionID)
		}
		if _, ok := c.channels[cust.ChannelID]; !ok {
			return nil, fmt.Errorf("customer %s: unknown channel %q", cust.ID, cust.ChannelID)
		}
		if cust.DealerTypeID != "" {
			if _, ok := c.dealerTypes[cust.DealerTypeID]; !ok {
				return nil, fmt.Errorf("customer %s: unknown dealer type %q", cust.ID, cust.DealerTypeID)
			}
		}
		if cust.AssignedRepID != "" {
			if _, ok := c.users[cust.AssignedRepID]; !ok {
				return nil, fmt.Errorf("customer %s: unknown assigned rep %q", cust.ID, cust.AssignedRepID)
			}
		}
	}

	return c, nil
}

func addUnique[T any](index map[string]T, kind string, id string, value T) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%s with empty id", kind)
	}
	if _, exists := index[id]; exists {
		return fmt.Errorf("duplicate %s id %q", kind, id)
	}
	index[id] = value
	return nil
}

func (c *Catalog) Data() Data {
	return Data{
		Regions:     append([]domain.Region(nil), c.data.Regions...),
		Channels:    append([]domain.Channel(nil), c.data.Channels...),
		DealerTypes: append([]domain.DealerType(nil), c.data.DealerTypes...),
		SKUs:        c.SKUs(),
		Customers:   c.Customers(),
		Users:       append([]domain.User(nil), c.data.Users...),
	}
}

func (c *Catalog) Region(id string) (domain.Region, bool) {
	r, ok := c.regions[id]
	return r, ok
}

func (c *Catalog) Channel(id string) (domain.Channel, bool) {
	ch, ok := c.channels[id]
	return ch, ok
}

func (c *Catalog) SKU(id string) (domain.SKU, bool) {
	sku, ok := c.skus[id]
	return sku, ok
}

func (c *Catalog) Customer(id string) (domain.Customer, bool) {
	cust, ok := c.customers[id]
	return cust, ok
}

func (c *Catalog) User(id string) (domain.User, bool) {
	u, ok := c.users[id]
	return u, ok
}

func (c *Catalog) Channels() []domain.Channel {
	return append([]domain.Channel(nil), c.data.Channels...)
}

// SKUs returns SKUs in catalog order.
func (c *Catalog) SKUs() []domain.SKU {
	return append([]domain.SKU(nil), c.data.SKUs...)
}

func (c *Catalog) Customers() []domain.Customer {
	return append([]domain.Customer(nil), c.data.Customers...)
}

// CustomersInScope filters customers by region and channel. Empty filters
// match everything.
func (c *Catalog) CustomersInScope(regionID string, channelID string) []domain.Customer {
	out := make([]domain.Customer, 0, len(c.data.Customers))
	for _, cust := range c.data.Customers {
		if regionID != "" && cust.RegionID != regionID {
			continue
		}
		if channelID != "" && cust.ChannelID != channelID {
			continue
		}
		out = append(out, cust)
	}
	return out
}

func (c *Catalog) Brands() []string {
	return distinct(c.data.SKUs, func(s domain.SKU) string { return s.Brand })
}

func (c *Catalog) Categories() []string {
	return distinct(c.data.SKUs, func(s domain.SKU) string { return s.Category })
}

func (c *Catalog) HasBrand(name string) bool {
	for _, b := range c.Brands() {
		if b == name {
			return true
		}
	}
	return false
}

func (c *Catalog) HasCategory(name string) bool {
	for _, cat := range c.Categories() {
		if cat == name {
			return true
		}
	}
	return false
}

// ManagerChain walks manager back-references upward from a user, nearest
// manager first.
func (c *Catalog) ManagerChain(userID string) []domain.User {
	chain, _ := c.managerChain(userID)
	return chain
}

func (c *Catalog) managerChain(userID string) ([]domain.User, error) {
	chain := []domain.User{}
	seen := map[string]bool{userID: true}
	current, ok := c.users[userID]
	for ok && current.ManagerID != "" {
		if seen[current.ManagerID] {
			return chain, fmt.Errorf("user %s: manager cycle through %q", userID, current.ManagerID)
		}
		seen[current.ManagerID] = true
		current, ok = c.users[current.ManagerID]
		if ok {
			chain = append(chain, current)
		}
	}
	return chain, nil
}

func distinct(skus []domain.SKU, key func(domain.SKU) string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, 8)
	for _, s := range skus {
		k := key(s)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
