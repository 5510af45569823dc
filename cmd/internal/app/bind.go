package app

import (
	"errors"
	"net"
	"sync"

	"labdash/cmd/internal/auth/session"
	"labdash/cmd/internal/realtime"
)

type sessionFeed interface {
	OnChange(fn func(session.Snapshot)) (cancel func())
}

type connector interface {
	Connect() error
	Disconnect(reason string)
}

// bindRealtime connects the realtime layer when the session becomes
// authenticated and disconnects it when the session ends. Renewals keep the
// session authenticated and do not touch the live connection.
func bindRealtime(feed sessionFeed, rt connector, log Logger) (cancel func()) {
	var mu sync.Mutex
	authed := false

	return feed.OnChange(func(s session.Snapshot) {
		mu.Lock()
		defer mu.Unlock()

		now := s.IsAuthenticated()
		if now == authed {
			return
		}
		authed = now

		if !now {
			rt.Disconnect("signed_out")
			return
		}
		if err := rt.Connect(); err != nil && !errors.Is(err, realtime.ErrClosed) {
			log.Warn("app.realtime.connect.fail", "err", err)
		}
	})
}

// runtimeBaseURL turns a listen address into a URL a local client can use.
func runtimeBaseURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}
