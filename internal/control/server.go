package control

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"os"
	"path/filepath"

	"github.com/leonardcser/sw-cache/internal/logger"
)

// Listen opens the unix socket at path, replacing a stale socket file.
func Listen(path string) (net.Listener, error) {
	// Ensure socket dir exists and remove stale socket
	_ = os.MkdirAll(filepath.Dir(path), 0o755)
	_ = os.Remove(path)

	l, err := net.Listen("unix", path)
	if err != nil {
		return nil, err
	}
	_ = os.Chmod(path, 0o600)
	return l, nil
}

// Serve accepts connections until l is closed or ctx is done.
func Serve(ctx context.Context, l net.Listener, h *Handler) error {
	go func() {
		<-ctx.Done()
		_ = l.Close()
	}()
	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			logger.Warnf("control accept: %v", err)
			continue
		}
		go handleConn(ctx, conn, h)
	}
}

func handleConn(ctx context.Context, conn net.Conn, h *Handler) {
	defer conn.Close()
	dec := json.NewDecoder(conn)
	enc := json.NewEncoder(conn)
	for {
		var msg Message
		if err := dec.Decode(&msg); err != nil {
			return
		}
		reply := h.Handle(ctx, msg)
		if !reply.Success {
			logger.Warnf("control %s: %s", msg.Type, reply.Error)
		}
		if err := enc.Encode(reply); err != nil {
			return
		}
	}
}
