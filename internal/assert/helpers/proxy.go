package helpers

import (
	"io"
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

// GatedProxy forwards TCP traffic to a target server. While paused, nothing
// sent by clients reaches the target, so every store call stalls
type GatedProxy struct {
	ln     net.Listener
	target string
	gate   sync.RWMutex
}

// NewGatedProxy starts a proxy in front of target. It is closed when the
// test ends
func NewGatedProxy(t *testing.T, target string) *GatedProxy {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	assert.NoError(t, err)

	p := &GatedProxy{
		ln:     ln,
		target: target,
	}
	go p.serve()
	t.Cleanup(func() { _ = ln.Close() })
	return p
}

// Addr returns the address clients should dial
func (p *GatedProxy) Addr() string {
	return p.ln.Addr().String()
}

// Pause holds client traffic until Resume is called
func (p *GatedProxy) Pause() {
	p.gate.Lock()
}

// Resume releases held traffic
func (p *GatedProxy) Resume() {
	p.gate.Unlock()
}

func (p *GatedProxy) serve() {
	for {
		conn, err := p.ln.Accept()
		if err != nil {
			return
		}
		go p.pipe(conn)
	}
}

func (p *GatedProxy) pipe(client net.Conn) {
	server, err := net.Dial("tcp", p.target)
	if err != nil {
		_ = client.Close()
		return
	}
	go func() {
		_, _ = io.Copy(client, server)
		_ = client.Close()
	}()

	buf := make([]byte, 4096)
	for {
		n, err := client.Read(buf)
		if n > 0 {
			p.gate.RLock()
			_, werr := server.Write(buf[:n])
			p.gate.RUnlock()
			if werr != nil {
				break
			}
		}
		if err != nil {
			break
		}
	}
	_ = server.Close()
}
