package ipv6

import "github.com/soypat/divert"

const (
	sizeHeader = 40
)

// ToS is the IPv6 Traffic Class. 6 MSB are Differentiated Services; 2 LSB are Explicit Congestion Notification.
type ToS = divert.IPToS
