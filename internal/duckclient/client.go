// Package duckclient is a minimal fake DuckChat client used only by the
// test suite to drive end-to-end scenarios over a real UDP socket. It is
// not the DuckChat client UI — no terminal rendering, no input editing,
// no standalone binary.
package duckclient

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/duckchat/duckchatd/internal/wire"
)

// Client is a fake DuckChat client bound to one UDP socket, talking to one
// server address.
type Client struct {
	conn   *net.UDPConn
	server string
}

// Dial opens a local UDP socket and connects it to serverAddr, so sends and
// Recv don't need to re-specify the destination on every call.
func Dial(serverAddr string) (*Client, error) {
	sa, err := net.ResolveUDPAddr("udp", serverAddr)
	if err != nil {
		return nil, err
	}
	conn, err := net.DialUDP("udp", nil, sa)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn, server: serverAddr}, nil
}

// Close releases the underlying socket.
func (c *Client) Close() error {
	return c.conn.Close()
}

// LocalAddr is this client's own canonical "host:port", the key the server
// uses for it in the user table.
func (c *Client) LocalAddr() string {
	return c.conn.LocalAddr().String()
}

func (c *Client) send(data []byte) error {
	_, err := c.conn.Write(data)
	return err
}

// Recv blocks for one reply datagram, up to timeout, and returns its type
// tag and body (header stripped).
func (c *Client) Recv(timeout time.Duration) (wire.Type, []byte, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return 0, nil, err
	}
	buf := make([]byte, 4096)
	n, err := c.conn.Read(buf)
	if err != nil {
		return 0, nil, err
	}
	return wire.PeekType(buf[:n])
}

// Login sends REQ_LOGIN with username.
func (c *Client) Login(username string) error {
	return c.send(wire.EncodeLoginReq(wire.LoginReq{Username: username}))
}

// Logout sends REQ_LOGOUT.
func (c *Client) Logout() error {
	return c.send(wire.EncodeLogoutReq())
}

// Join sends REQ_JOIN for channel.
func (c *Client) Join(channel string) error {
	return c.send(wire.EncodeJoinReq(wire.JoinReq{Channel: channel}))
}

// Leave sends REQ_LEAVE for channel.
func (c *Client) Leave(channel string) error {
	return c.send(wire.EncodeLeaveReq(wire.LeaveReq{Channel: channel}))
}

// Say sends REQ_SAY to channel.
func (c *Client) Say(channel, text string) error {
	return c.send(wire.EncodeSayReq(wire.SayReq{Channel: channel, Text: text}))
}

// List sends REQ_LIST.
func (c *Client) List() error {
	return c.send(wire.EncodeListReq())
}

// Who sends REQ_WHO for channel.
func (c *Client) Who(channel string) error {
	return c.send(wire.EncodeWhoReq(wire.WhoReq{Channel: channel}))
}

// Verify sends REQ_VERIFY for username.
func (c *Client) Verify(username string) error {
	return c.send(wire.EncodeVerifyReq(wire.VerifyReq{Username: username}))
}

// KeepAlive sends one REQ_KEEP_ALIVE.
func (c *Client) KeepAlive() error {
	return c.send(wire.EncodeKeepAliveReq())
}

// RunKeepAlive sends a REQ_KEEP_ALIVE every interval until ctx is canceled.
func (c *Client) RunKeepAlive(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = c.KeepAlive()
		}
	}
}

// ExpectSay waits up to timeout for a TXT_SAY reply and decodes it.
func (c *Client) ExpectSay(timeout time.Duration) (wire.SayText, error) {
	typ, body, err := c.Recv(timeout)
	if err != nil {
		return wire.SayText{}, err
	}
	if typ != wire.TxtSay {
		return wire.SayText{}, fmt.Errorf("duckclient: expected TXT_SAY, got %s", typ)
	}
	return wire.DecodeSayText(body)
}

// ExpectList waits up to timeout for a TXT_LIST reply and decodes it.
func (c *Client) ExpectList(timeout time.Duration) (wire.ListText, error) {
	typ, body, err := c.Recv(timeout)
	if err != nil {
		return wire.ListText{}, err
	}
	if typ != wire.TxtList {
		return wire.ListText{}, fmt.Errorf("duckclient: expected TXT_LIST, got %s", typ)
	}
	return wire.DecodeListText(body)
}

// ExpectWho waits up to timeout for a TXT_WHO reply and decodes it.
func (c *Client) ExpectWho(timeout time.Duration) (wire.WhoText, error) {
	typ, body, err := c.Recv(timeout)
	if err != nil {
		return wire.WhoText{}, err
	}
	if typ != wire.TxtWho {
		return wire.WhoText{}, fmt.Errorf("duckclient: expected TXT_WHO, got %s", typ)
	}
	return wire.DecodeWhoText(body)
}

// ExpectVerify waits up to timeout for a TXT_VERIFY reply and decodes it.
func (c *Client) ExpectVerify(timeout time.Duration) (wire.VerifyText, error) {
	typ, body, err := c.Recv(timeout)
	if err != nil {
		return wire.VerifyText{}, err
	}
	if typ != wire.TxtVerify {
		return wire.VerifyText{}, fmt.Errorf("duckclient: expected TXT_VERIFY, got %s", typ)
	}
	return wire.DecodeVerifyText(body)
}

// ExpectError waits up to timeout for a TXT_ERROR reply and decodes it.
func (c *Client) ExpectError(timeout time.Duration) (wire.ErrorText, error) {
	typ, body, err := c.Recv(timeout)
	if err != nil {
		return wire.ErrorText{}, err
	}
	if typ != wire.TxtError {
		return wire.ErrorText{}, fmt.Errorf("duckclient: expected TXT_ERROR, got %s", typ)
	}
	return wire.DecodeErrorText(body)
}
