// Package inventory holds the static list of managed devices.
package inventory

import (
	"fmt"
	"sort"
)

type Device struct {
	ID           int    `json:"id" mapstructure:"id"`
	HardwareType string `json:"hardware_type" mapstructure:"hardware_type"`
	Serial       string `json:"serial" mapstructure:"serial"`
	ComPort      string `json:"com_port" mapstructure:"com_port"`
	MacAddress   string `json:"mac_address" mapstructure:"mac_address"`
}

// Defaults is the reference bench used when no inventory is configured.
func Defaults() []Device {
	return []Device{
		{ID: 1, HardwareType: "Dgx", Serial: "123456", ComPort: "COM3", MacAddress: "00:1A:2B:3C:4D:5E"},
		{ID: 2, HardwareType: "woa", Serial: "123457", ComPort: "COM4", MacAddress: "00:1A:2B:3C:4D:5F"},
		{ID: 3, HardwareType: "Dgx", Serial: "123458", ComPort: "COM5", MacAddress: "00:1A:2B:3C:4D:60"},
	}
}

// Inventory is read-only after New.
type Inventory struct {
	byID map[int]Device
	ids  []int
}

func New(devices []Device) (*Inventory, error) {
	inv := &Inventory{byID: make(map[int]Device, len(devices))}
	for _, d := range devices {
		if d.ID <= 0 {
			return nil, fmt.Errorf("inventory: device id must be positive, got %d", d.ID)
		}
		if _, dup := inv.byID[d.ID]; dup {
			return nil, fmt.Errorf("inventory: duplicate device id %d", d.ID)
		}
		inv.byID[d.ID] = d
		inv.ids = append(inv.ids, d.ID)
	}
	sort.Ints(inv.ids)
	return inv, nil
}

func (i *Inventory) Lookup(id int) (Device, bool) {
	d, ok := i.byID[id]
	return d, ok
}

func (i *Inventory) IDs() []int {
	return append([]int(nil), i.ids...)
}

func (i *Inventory) All() []Device {
	out := make([]Device, 0, len(i.ids))
	for _, id := range i.ids {
		out = append(out, i.byID[id])
	}
	return out
}
