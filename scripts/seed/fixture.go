package main

import (
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/odyssey-erp/stocksync/internal/inventory"
)

type fixture struct {
	Records []recordFixture `yaml:"records"`
}

type recordFixture struct {
	SKU        string             `yaml:"sku"`
	ProductID  string             `yaml:"product_id"`
	VariantID  string             `yaml:"variant_id"`
	Warehouses []warehouseFixture `yaml:"warehouses"`
	Channels   []channelFixture   `yaml:"channels"`
}

type warehouseFixture struct {
	ID              string            `yaml:"id"`
	Available       int64             `yaml:"available"`
	Reserved        int64             `yaml:"reserved"`
	Damaged         int64             `yaml:"damaged"`
	InTransit       int64             `yaml:"in_transit"`
	ReorderPoint    int64             `yaml:"reorder_point"`
	ReorderQuantity int64             `yaml:"reorder_quantity"`
	MaxStockLevel   int64             `yaml:"max_stock_level"`
	AutoReorder     bool              `yaml:"auto_reorder"`
	Suppliers       []supplierFixture `yaml:"suppliers"`
}

type supplierFixture struct {
	Name         string `yaml:"name"`
	Primary      bool   `yaml:"primary"`
	LeadTimeDays int    `yaml:"lead_time_days"`
}

type channelFixture struct {
	Name          string `yaml:"name"`
	Enabled       bool   `yaml:"enabled"`
	AllocationCap int64  `yaml:"allocation_cap"`
	Warehouse     string `yaml:"warehouse"`
}

// loadFixture decodes a seed file into create inputs.
func loadFixture(r io.Reader) ([]inventory.CreateInput, error) {
	var f fixture
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode fixture: %w", err)
	}
	if len(f.Records) == 0 {
		return nil, errors.New("fixture has no records")
	}
	out := make([]inventory.CreateInput, 0, len(f.Records))
	for _, rec := range f.Records {
		in := inventory.CreateInput{
			SKU:       rec.SKU,
			ProductID: rec.ProductID,
			VariantID: rec.VariantID,
			Actor:     "seed",
		}
		for _, w := range rec.Warehouses {
			wi := inventory.WarehouseInput{
				WarehouseID:     w.ID,
				Available:       w.Available,
				Reserved:        w.Reserved,
				Damaged:         w.Damaged,
				InTransit:       w.InTransit,
				ReorderPoint:    w.ReorderPoint,
				ReorderQuantity: w.ReorderQuantity,
				MaxStockLevel:   w.MaxStockLevel,
				AutoReorder:     w.AutoReorder,
			}
			for _, s := range w.Suppliers {
				wi.Suppliers = append(wi.Suppliers, inventory.Supplier{Name: s.Name, IsPrimary: s.Primary, LeadTimeDays: s.LeadTimeDays})
			}
			in.Warehouses = append(in.Warehouses, wi)
		}
		for _, c := range rec.Channels {
			in.Channels = append(in.Channels, inventory.ChannelInput{
				Channel:       inventory.Channel(c.Name),
				Enabled:       c.Enabled,
				AllocationCap: c.AllocationCap,
				WarehouseID:   c.Warehouse,
			})
		}
		out = append(out, in)
	}
	return out, nil
}
