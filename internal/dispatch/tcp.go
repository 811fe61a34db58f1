package dispatch

import (
	"context"
	"io"
	"net"

	"go.uber.org/zap"
)

// serveTCP dials Upstream() and pipes bytes in both directions,
// untouched, until either side closes — the Tcp protocol carries no
// interception and no hooks.
func (l *Listener) serveTCP(ctx context.Context, conn net.Conn) {
	var dialer net.Dialer
	upstream, err := dialer.DialContext(ctx, "tcp", l.Desc.Upstream())
	if err != nil {
		l.log.Error("tcp dial upstream failed", zap.Error(err))
		return
	}
	defer upstream.Close()

	done := make(chan struct{}, 2)
	go func() {
		io.Copy(upstream, conn)
		if c, ok := upstream.(interface{ CloseWrite() error }); ok {
			c.CloseWrite()
		}
		done <- struct{}{}
	}()
	go func() {
		io.Copy(conn, upstream)
		if c, ok := conn.(interface{ CloseWrite() error }); ok {
			c.CloseWrite()
		}
		done <- struct{}{}
	}()
	<-done
	<-done
}
