package purchase

import (
	"fmt"
	"strings"
	"time"
)

// DefaultOrderType is granted when an order id does not carry a recognizable type.
const DefaultOrderType = TypeDigital

// MakeOrderID builds a gateway order id: {productId}-{type}-{timestamp}-{userId}.
func MakeOrderID(productID string, typ Type, at time.Time, userID string) string {
	return fmt.Sprintf("%s-%s-%d-%s", productID, typ, at.Unix(), userID)
}

// ParseOrderType extracts the purchase type from an order id built by MakeOrderID.
// Product and user ids may contain dashes themselves, so the type is the segment right
// before the first all-digit (timestamp) segment. Colons are accepted as delimiters.
// Anything unparseable yields DefaultOrderType.
func ParseOrderType(orderID string) Type {
	typ, ok := parseOrderType(orderID)
	if !ok {
		return DefaultOrderType
	}
	return typ
}

func parseOrderType(orderID string) (Type, bool) {
	segs := strings.FieldsFunc(orderID, func(r rune) bool { return r == '-' || r == ':' })
	// need at least: product, type, timestamp, user
	for i := 1; i+2 < len(segs); i++ {
		typ := Type(strings.ToLower(segs[i]))
		if typ.IsValid() && isDigits(segs[i+1]) {
			return typ, true
		}
	}
	return "", false
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
