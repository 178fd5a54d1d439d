package main

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stocksync/internal/inventory"
)

func TestLoadFixtureFile(t *testing.T) {
	f, err := os.Open("inventory.yaml")
	require.NoError(t, err)
	defer f.Close()

	inputs, err := loadFixture(f)
	require.NoError(t, err)
	require.Len(t, inputs, 2)

	first := inputs[0]
	require.Equal(t, "WH-001", first.SKU)
	require.Len(t, first.Warehouses, 2)
	require.True(t, first.Warehouses[0].Suppliers[0].IsPrimary)
	require.Equal(t, 7, first.Warehouses[0].Suppliers[0].LeadTimeDays)
	require.Equal(t, inventory.Channel("shopify"), first.Channels[1].Channel)
	require.Equal(t, int64(25), first.Channels[1].AllocationCap)
	require.Equal(t, "seed", first.Actor)
}

func TestLoadFixtureRejectsUnknownFields(t *testing.T) {
	_, err := loadFixture(strings.NewReader("records:\n  - sku: X\n    colour: red\n"))
	require.Error(t, err)

	_, err = loadFixture(strings.NewReader("records: []\n"))
	require.Error(t, err)
}
