package mqtt

// message is a serialized publish waiting for a broker connection.
type message struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// outbox queues messages in publish order while the broker is unreachable.
// A retained message replaces any queued retained message on the same topic.
// When full, the oldest non-retained message is dropped first.
// Not safe for concurrent use; RealPublisher holds its mutex.
type outbox struct {
	capacity int
	queue    []message
	dropped  int  // total since creation
	overflow bool // a drop happened since the last drain
}

func newOutbox(capacity int) *outbox {
	if capacity < 1 {
		capacity = 1
	}
	return &outbox{capacity: capacity}
}

// push queues msg and reports whether this is the first drop since the last drain.
func (o *outbox) push(msg message) bool {
	if msg.retained {
		o.removeRetained(msg.topic)
	}
	first := false
	if len(o.queue) == o.capacity {
		o.evict()
		o.dropped++
		first = !o.overflow
		o.overflow = true
	}
	o.queue = append(o.queue, msg)
	return first
}

func (o *outbox) removeRetained(topic string) {
	for i, m := range o.queue {
		if m.retained && m.topic == topic {
			o.queue = append(o.queue[:i], o.queue[i+1:]...)
			return
		}
	}
}

func (o *outbox) evict() {
	for i, m := range o.queue {
		if !m.retained {
			o.queue = append(o.queue[:i], o.queue[i+1:]...)
			return
		}
	}
	o.queue = o.queue[1:]
}

// drain returns every queued message, oldest first, and empties the outbox.
func (o *outbox) drain() []message {
	if len(o.queue) == 0 {
		return nil
	}
	out := o.queue
	o.queue = nil
	o.overflow = false
	return out
}

func (o *outbox) len() int {
	return len(o.queue)
}
