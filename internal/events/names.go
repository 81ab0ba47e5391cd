package events

const (
	OrderCreated       = "order.created"
	DeliveryCreated    = "delivery.created"
	DeliveryOffersSent = "delivery.offers_sent"
	DeliveryAssigned   = "delivery.assigned"
	DriverOfferExpired = "driver.offer_expired"
)

func OrderStatus(status string) string {
	return "order." + status
}

func DeliveryStatus(status string) string {
	return "delivery." + status
}

// String reads a string field from event data.
func (e Event) String(key string) string {
	v, _ := e.Data[key].(string)
	return v
}
