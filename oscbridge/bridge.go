// Package oscbridge lets a hardware control surface talking OSC over UDP
// drive labels: every "/hs<suffix>" message carrying a key and a value is
// answered with an "/lb<suffix>" label message showing the value.
package oscbridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"

	"github.com/hypebeast/go-osc/osc"
)

const (
	InputPrefix  = "/hs"
	OutputPrefix = "/lb"
	LabelKey     = "l_label"
)

const maxPacket = 1500

// Translate maps an input message onto the label message to send back.
// Only messages whose address has InputPrefix and whose arguments are a
// (string, float32) pair are translated.
func Translate(in *osc.Message) (*osc.Message, bool) {
	suffix, ok := strings.CutPrefix(in.Address, InputPrefix)
	if !ok || len(in.Arguments) != 2 {
		return nil, false
	}
	if _, ok := in.Arguments[0].(string); !ok {
		return nil, false
	}
	value, ok := in.Arguments[1].(float32)
	if !ok {
		return nil, false
	}
	text := strconv.FormatFloat(float64(value), 'f', -1, 32)
	return osc.NewMessage(OutputPrefix+suffix, LabelKey, text), true
}

// Bridge reads OSC packets from conn and sends translations to peer.
type Bridge struct {
	conn   net.PacketConn
	peer   net.Addr
	logger *slog.Logger
}

func New(conn net.PacketConn, peer net.Addr, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{conn: conn, peer: peer, logger: logger}
}

// Listen binds a UDP socket on listenAddr and resolves peerAddr.
func Listen(listenAddr, peerAddr string, logger *slog.Logger) (*Bridge, error) {
	peer, err := net.ResolveUDPAddr("udp", peerAddr)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", peerAddr, err)
	}
	conn, err := net.ListenPacket("udp", listenAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", listenAddr, err)
	}
	return New(conn, peer, logger), nil
}

// Run handles packets until ctx is done or the socket fails. Packets that
// do not parse or do not match are logged and skipped.
func (b *Bridge) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { b.conn.Close() })
	defer stop()

	buf := make([]byte, maxPacket)
	for {
		n, src, err := b.conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("reading osc packet: %w", err)
		}
		if err := b.handle(buf[:n], src); err != nil {
			return err
		}
	}
}

func (b *Bridge) handle(data []byte, src net.Addr) error {
	packet, err := osc.ParsePacket(string(data))
	if err != nil {
		b.logger.Warn("ignoring undecodable osc packet", "from", src.String(), "size", len(data), "error", err)
		return nil
	}
	in, ok := packet.(*osc.Message)
	if !ok {
		b.logger.Debug("ignoring osc bundle", "from", src.String())
		return nil
	}
	out, ok := Translate(in)
	if !ok {
		b.logger.Debug("ignoring osc message", "address", in.Address, "args", len(in.Arguments))
		return nil
	}
	encoded, err := out.MarshalBinary()
	if err != nil {
		return fmt.Errorf("encoding osc message: %w", err)
	}
	b.logger.Debug("sending label", "address", out.Address, "args", out.Arguments)
	if _, err := b.conn.WriteTo(encoded, b.peer); err != nil {
		return fmt.Errorf("sending osc message: %w", err)
	}
	return nil
}
