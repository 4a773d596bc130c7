package events

// Subscriber receives broadcast Events in the order the orchestrator
// commits the underlying mutations.
type Subscriber chan Event

// Bus fans Events out to every connected client.
type Bus interface {
	// Publish delivers event to every current subscriber. Must not block
	// the caller on a slow subscriber.
	Publish(event Event)
	// Subscribe registers a new subscriber and returns its channel.
	Subscribe() Subscriber
	// Unsubscribe deregisters and closes sub.
	Unsubscribe(sub Subscriber)
	// Close shuts down the bus and all subscriptions.
	Close()
}
