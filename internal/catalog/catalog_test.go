package catalog

import (
	"strings"
	"testing"
)

func TestDemoCatalogLoads(t *testing.T) {
	c := Demo()

	if got := len(c.SKUs()); got != 6 {
		t.Fatalf("expected 6 skus, got %d", got)
	}
	if _, ok := c.Customer("C1"); !ok {
		t.Fatalf("expected customer C1")
	}
	brands := c.Brands()
	if strings.Join(brands, ",") != "Aqua Pura,Fizzo,Sunny,Volt" {
		t.Fatalf("unexpected brands %v", brands)
	}
	if !c.HasCategory("Water") || c.HasCategory("Dairy") {
		t.Fatalf("unexpected category lookup result")
	}
}

func TestCustomersInScope(t *testing.T) {
	c := Demo()
	north := c.CustomersInScope("R1", "")
	if len(north) != 4 {
		t.Fatalf("expected 4 north customers, got %d", len(north))
	}
	retail := c.CustomersInScope("R1", "CH-RET")
	if len(retail) != 1 || retail[0].ID != "C2" {
		t.Fatalf("expected only C2, got %+v", retail)
	}
}

func TestManagerChain(t *testing.T) {
	c := Demo()
	chain := c.ManagerChain("U-REP-N1")
	ids := make([]string, 0, len(chain))
	for _, u := range chain {
		ids = append(ids, u.ID)
	}
	if strings.Join(ids, ">") != "U-TDE-N>U-TDM-N>U-RSM-N" {
		t.Fatalf("unexpected chain %v", ids)
	}
	if len(c.ManagerChain("U-RSM-N")) != 0 {
		t.Fatalf("top of hierarchy must have an empty chain")
	}
}

func TestParseRejectsBrokenReferences(t *testing.T) {
	cases := map[string]string{
		"duplicate": `
regions: [{id: R1, name: A}, {id: R1, name: B}]
`,
		"unknown region": `
regions: [{id: R1, name: A}]
channels: [{id: CH, name: Retail}]
customers: [{id: C1, name: X, region_id: R9, channel_id: CH}]
`,
		"unpriced sku": `
skus: [{id: S1, name: Milk, category: Dairy, size: 1L, pack_type: PET}]
`,
		"manager cycle": `
users:
  - {id: A, name: A, role: TDM, manager_id: B}
  - {id: B, name: B, role: RSM, manager_id: A}
`,
		"unknown role": `
users: [{id: A, name: A, role: CEO}]
`,
	}
	for name, doc := range cases {
		if _, err := Parse([]byte(doc)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}
