package models

import "strings"

// ParseAvailability maps stock phrases (Russian and English, schema.org
// URLs) to the normalized enum.
func ParseAvailability(s string) Availability {
	s = strings.ToLower(s)
	switch {
	case s == "":
		return AvailabilityUnknown
	case containsAny(s, "нет в наличии", "распродан", "закончился", "out of stock", "sold out", "outofstock", "soldout"):
		return AvailabilityOutOfStock
	case containsAny(s, "предзаказ", "pre-order", "preorder"):
		return AvailabilityPreOrder
	case containsAny(s, "осталось", "мало", "limitedavailability", "only few left", "left in stock"):
		return AvailabilityLimited
	case containsAny(s, "в наличии", "добавить в корзину", "купить сейчас", "in stock", "instock", "add to cart", "add to basket"):
		return AvailabilityAvailable
	}
	return AvailabilityUnknown
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
