package relay

import "time"

// fakeConn is a wsConn that tolerates every call a teardown path might
// make, so tests can admit a member without a real network connection.
type fakeConn struct{}

func (fakeConn) SetReadLimit(limit int64)                {}
func (fakeConn) SetReadDeadline(t time.Time) error        { return nil }
func (fakeConn) SetPongHandler(h func(string) error)      {}
func (fakeConn) ReadMessage() (int, []byte, error)        { return 0, nil, nil }
func (fakeConn) SetWriteDeadline(t time.Time) error       { return nil }
func (fakeConn) WriteMessage(messageType int, data []byte) error { return nil }
func (fakeConn) Close() error                             { return nil }
