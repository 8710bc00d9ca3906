package endpoint

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// dialer abstracts how an Endpoint obtains its net.Conn: a real TCP
// dial, an already-connected conn handed in by a test, or a factory
// yielding an in-process pipe — the three hostspec shapes of §3.
type dialer interface {
	dial(timeout time.Duration) (net.Conn, error)
	String() string
}

// HostSpec names the job server an Endpoint connects to.
type HostSpec struct {
	d dialer
}

type tcpDialer struct{ addr string }

func (t tcpDialer) dial(timeout time.Duration) (net.Conn, error) {
	return net.DialTimeout("tcp", t.addr, timeout)
}
func (t tcpDialer) String() string { return t.addr }

type connDialer struct {
	conn net.Conn
	used bool
}

func (c *connDialer) dial(time.Duration) (net.Conn, error) {
	if c.used {
		return nil, fmt.Errorf("endpoint: injected connection already consumed")
	}
	c.used = true
	return c.conn, nil
}
func (c *connDialer) String() string { return c.conn.RemoteAddr().String() }

type factoryDialer struct {
	name    string
	factory func() (net.Conn, error)
}

func (f factoryDialer) dial(time.Duration) (net.Conn, error) { return f.factory() }
func (f factoryDialer) String() string                       { return f.name }

// NewHostSpec builds a HostSpec from a textual "host:port" address,
// defaulting the port to 7003 (Gearman's default) when omitted.
func NewHostSpec(addr string) HostSpec {
	addr = stripScheme(addr)
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, strconv.Itoa(defaultPort))
	}
	return HostSpec{d: tcpDialer{addr: addr}}
}

// NewHostSpecConn wraps an already-connected net.Conn (test
// injection): the "pre-connected byte channel" shape of §3.
func NewHostSpecConn(conn net.Conn) HostSpec {
	return HostSpec{d: &connDialer{conn: conn}}
}

// NewHostSpecFactory wraps a factory yielding a fresh connection on
// every Connect attempt — the in-process-channel shape of §3, used
// when a worker and client live in the same process.
func NewHostSpecFactory(name string, factory func() (net.Conn, error)) HostSpec {
	return HostSpec{d: factoryDialer{name: name, factory: factory}}
}

func (h HostSpec) String() string {
	if h.d == nil {
		return ""
	}
	return h.d.String()
}

// stripScheme tolerates a "gearman://" style address a caller might
// pass through from a URL-shaped config value.
func stripScheme(addr string) string {
	if i := strings.Index(addr, "://"); i >= 0 {
		return addr[i+3:]
	}
	return addr
}
