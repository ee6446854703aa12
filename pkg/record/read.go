package record

// ReadContext carries one read call: a borrowed key and the caller's output
// buffer. The payload read by Get/GetAtomic is available from
// [ReadContext.Output] afterwards.
type ReadContext struct {
	key     KeyView
	out     []byte
	n       uint32
	retries uint64
}

// NewReadContext builds a read context over key. dst is reused as output
// storage when its capacity suffices; otherwise a larger buffer is
// allocated on first use.
func NewReadContext(key, dst []byte) ReadContext {
	return ReadContext{
		key: NewKeyView(key),
		out: dst[:0],
	}
}

// Key returns the transient key view.
func (c *ReadContext) Key() KeyView {
	return c.key
}

// Output returns the payload copied by the last Get or GetAtomic.
func (c *ReadContext) Output() []byte {
	return c.out[:c.n]
}

// Len returns the payload length copied by the last Get or GetAtomic.
func (c *ReadContext) Len() uint32 {
	return c.n
}

// Retries returns how many GetAtomic attempts were discarded because they
// overlapped a write. Diagnostic only.
func (c *ReadContext) Retries() uint64 {
	return c.retries
}

// Get copies a value record that cannot change anymore (immutable region).
func (c *ReadContext) Get(v Value) {
	n := v.Len()
	c.copyOut(v.payload(n))
	c.n = n
}

// GetAtomic copies a value record that may be updated concurrently by
// [UpsertContext.PutAtomic].
//
// The lock word is read before and after the copy. The copy is kept only if
// no writer held the lock at the start and the word did not change; any
// other outcome means the copy may be torn and it is retried. There is no
// retry limit.
func (c *ReadContext) GetAtomic(v Value) {
	lock := v.Lock()

	for {
		before := lock.Load()

		n := v.Len()
		c.copyOut(v.payload(n))

		after := lock.Load()

		if !before.Locked && before == after {
			c.n = n

			return
		}

		c.retries++
	}
}

// copyOut copies src into the output buffer, growing it if needed.
func (c *ReadContext) copyOut(src []byte) {
	if cap(c.out) < len(src) {
		c.out = make([]byte, len(src))
	}

	c.out = c.out[:len(src)]
	copy(c.out, src)
}
