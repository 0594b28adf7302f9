package redisx

import "time"

const (
	// Order status cache: order_status:{order_id} -> {"status":"...","stage":"..."}
	KeyOrderStatus = "order_status:%s"

	// Leader lease for the pending-order sweep; holds the instance name.
	KeySweepLease = "pending_sweep:leader"
)

var (
	TTLStatusCache = 5 * time.Minute
	TTLSweepLease  = 90 * time.Second
)
