package server

import (
	"context"
	"fmt"
	"net/url"

	"gihan9a/roomsync/internal/transport"
	"gihan9a/roomsync/pkg/syncproto"
)

// LocalDialer connects providers to a relay in the same process over
// pipes. The room is the last path segment of the dialed URL.
type LocalDialer struct {
	Server   *RelayServer
	Password string
}

func (d LocalDialer) DialContext(ctx context.Context, rawURL string) (transport.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid room url: %w", err)
	}
	name := roomFromPath(u.Path)
	if name == "" {
		return nil, fmt.Errorf("no room in url %q", rawURL)
	}

	client, server := transport.Pipe()
	if !d.Server.checkPassword(d.Password) {
		// Pipes have no handshake, so the refusal travels in-band.
		server.WriteMessage(syncproto.PermissionDeniedFrame("invalid password"))
		server.Close()
		return client, nil
	}

	go d.Server.ServeConn(context.Background(), server, name)
	return client, nil
}
