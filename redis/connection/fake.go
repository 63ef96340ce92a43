package connection

import "bytes"

// FakeConn implements redis.Connection for test
type FakeConn struct {
	Connection
	buf bytes.Buffer
}

// NewFakeConn creates a new FakeConn
func NewFakeConn() *FakeConn {
	return &FakeConn{}
}

// Write writes data to buffer
func (c *FakeConn) Write(b []byte) (int, error) {
	return c.buf.Write(b)
}

// Clean resets the buffer
func (c *FakeConn) Clean() {
	c.buf.Reset()
}

// Bytes returns written data
func (c *FakeConn) Bytes() []byte {
	return c.buf.Bytes()
}

// RemoteAddr returns a fixed peer address for tests
func (c *FakeConn) RemoteAddr() string {
	return "127.0.0.1:6399"
}

// Close does nothing for FakeConn
func (c *FakeConn) Close() error {
	return nil
}
