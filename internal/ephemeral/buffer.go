package ephemeral

// Buffer is an in-memory writer for plaintext biometric data. When it has to
// grow, the array it leaves behind is zeroed; Release zeroes the rest.
type Buffer struct {
	b []byte
}

// NewBuffer returns a Buffer with room for sizeHint bytes.
func NewBuffer(sizeHint int) *Buffer {
	return &Buffer{b: make([]byte, 0, max(sizeHint, 0))}
}

func (b *Buffer) Write(p []byte) (int, error) {
	b.b = appendWiped(b.b, p)
	return len(p), nil
}

// Bytes aliases the buffer's contents until Release.
func (b *Buffer) Bytes() []byte { return b.b }

// Release zeroes the whole backing array.
func (b *Buffer) Release() error {
	clear(b.b[:cap(b.b)])
	b.b = nil
	return nil
}

// appendWiped appends p to buf. If buf must move, the old backing array is
// zeroed so no stale plaintext copy stays reachable.
func appendWiped(buf, p []byte) []byte {
	if len(buf)+len(p) <= cap(buf) {
		return append(buf, p...)
	}
	grown := make([]byte, len(buf), max(2*cap(buf), len(buf)+len(p)))
	copy(grown, buf)
	clear(buf[:cap(buf)])
	return append(grown, p...)
}
