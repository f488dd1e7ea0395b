package capture

// Slot is a single-value mailbox. Offer never blocks and replaces any value
// not yet taken; Poll never blocks.
type Slot[T any] struct {
	ch chan T
}

func NewSlot[T any]() *Slot[T] {
	return &Slot[T]{ch: make(chan T, 1)}
}

// Offer stores v, discarding an unconsumed previous value.
func (s *Slot[T]) Offer(v T) {
	for {
		select {
		case s.ch <- v:
			return
		default:
		}
		select {
		case <-s.ch:
		default:
		}
	}
}

// Poll takes the current value, if any.
func (s *Slot[T]) Poll() (T, bool) {
	select {
	case v := <-s.ch:
		return v, true
	default:
		var zero T
		return zero, false
	}
}
