package domain

import "time"

// PriceLevel is one level of an order book side.
type PriceLevel struct {
	Price    float64
	Quantity float64
}

// OrderBook is a depth snapshot used by the order-book imbalance bot.
type OrderBook struct {
	Symbol    string
	Timestamp time.Time
	Bids      []PriceLevel // Sorted best (highest) price first
	Asks      []PriceLevel // Sorted best (lowest) price first
}

// BidVolume sums the quantity across all bid levels.
func (o *OrderBook) BidVolume() float64 {
	var total float64
	for _, l := range o.Bids {
		total += l.Quantity
	}
	return total
}

// AskVolume sums the quantity across all ask levels.
func (o *OrderBook) AskVolume() float64 {
	var total float64
	for _, l := range o.Asks {
		total += l.Quantity
	}
	return total
}
