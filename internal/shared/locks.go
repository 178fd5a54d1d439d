package shared

import "fmt"

// StockLockKey builds lock keys for the (sku, warehouse) mutation boundary.
func StockLockKey(sku, warehouseID string) string {
	return fmt.Sprintf("inventory:%s:%s:lock", sku, warehouseID)
}

// ChannelLockKey builds lock keys guarding channel bookkeeping of one SKU.
func ChannelLockKey(sku, channel string) string {
	return fmt.Sprintf("inventory:%s:channel:%s:lock", sku, channel)
}
