package sheets

import (
	"fmt"
	"strings"
)

// Sector is a business data category backed by one dataset.
type Sector string

const (
	SectorInvoices  Sector = "invoices"
	SectorSales     Sector = "sales"
	SectorMarketing Sector = "marketing"
	SectorClients   Sector = "clients"
	SectorTasks     Sector = "tasks"
	SectorProjects  Sector = "projects"
	SectorEmployees Sector = "employees"
)

// Sectors is the closed set of sectors, in the order shown to the model.
var Sectors = []Sector{
	SectorInvoices,
	SectorSales,
	SectorMarketing,
	SectorClients,
	SectorTasks,
	SectorProjects,
	SectorEmployees,
}

// ParseSector matches s case-insensitively against the known sectors.
func ParseSector(s string) (Sector, error) {
	normalized := Sector(strings.ToLower(strings.TrimSpace(s)))
	for _, sector := range Sectors {
		if sector == normalized {
			return sector, nil
		}
	}
	return "", fmt.Errorf("unknown sector %q", s)
}

// SectorNames returns the sector names as strings.
func SectorNames() []string {
	names := make([]string, len(Sectors))
	for i, sector := range Sectors {
		names[i] = string(sector)
	}
	return names
}

func sectorEnumJSON() string {
	quoted := make([]string, len(Sectors))
	for i, sector := range Sectors {
		quoted[i] = fmt.Sprintf("%q", sector)
	}
	return "[" + strings.Join(quoted, ",") + "]"
}
