package domain

// ConnectivityMonitor reports network reachability and notifies subscribers
// on transitions. The gateway consults Online before each request and drains
// its offline queue when a subscriber callback reports the network is back.
type ConnectivityMonitor interface {
	// Online returns the last observed reachability state.
	Online() bool

	// Subscribe registers fn to be called on every online/offline
	// transition. The returned function unsubscribes.
	Subscribe(fn func(online bool)) (unsubscribe func())
}
