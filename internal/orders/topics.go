package orders

const (
	TopicOrderPlaced        = "order.placed"
	TopicOrderStatusChanged = "order.status.changed"
	TopicLowStock           = "inventory.low_stock"
)

// Partition key = order_id (or product_id for stock events) so one entity's
// events keep their order.
func PartitionKey(id string) []byte { return []byte(id) }
