package wire

import (
	"encoding/binary"
	"fmt"
)

// ErrTruncated is returned when a datagram is shorter than its shape requires.
var ErrTruncated = fmt.Errorf("wire: truncated packet")

// --- fixed-field helpers -----------------------------------------------

// putString writes s into a fixed-width null-padded field, truncating to
// width-1 bytes so the field always retains at least one NUL terminator.
func putString(dst []byte, s string) {
	n := len(dst) - 1
	if n < 0 {
		n = 0
	}
	if len(s) < n {
		n = len(s)
	}
	for i := range dst {
		dst[i] = 0
	}
	copy(dst, s[:n])
}

// getString reads a NUL-padded fixed field back into a string, stopping at
// the first NUL byte (or the end of the field if there is none).
func getString(src []byte) string {
	for i, b := range src {
		if b == 0 {
			return string(src[:i])
		}
	}
	return string(src)
}

func need(data []byte, n int) error {
	if len(data) < n {
		return ErrTruncated
	}
	return nil
}

// --- header: 4-byte little-endian type tag -----------------------------

// PeekType reads the leading type tag from a datagram and returns it along
// with the remaining body bytes.
func PeekType(data []byte) (Type, []byte, error) {
	if err := need(data, 4); err != nil {
		return 0, nil, err
	}
	return Type(binary.LittleEndian.Uint32(data[:4])), data[4:], nil
}

func putHeader(buf []byte, t Type) {
	binary.LittleEndian.PutUint32(buf[:4], uint32(t))
}

// --- variable-length list helpers ---------------------------------------
//
// A list of fixed-width strings is encoded as a uint32 little-endian count
// followed by count * width bytes.

func encodeStringList(items []string, width int) []byte {
	buf := make([]byte, 4+len(items)*width)
	binary.LittleEndian.PutUint32(buf[:4], uint32(len(items)))
	for i, s := range items {
		putString(buf[4+i*width:4+(i+1)*width], s)
	}
	return buf
}

func decodeStringList(data []byte, width int) ([]string, []byte, error) {
	if err := need(data, 4); err != nil {
		return nil, nil, err
	}
	n := binary.LittleEndian.Uint32(data[:4])
	data = data[4:]
	if err := need(data, int(n)*width); err != nil {
		return nil, nil, err
	}
	items := make([]string, n)
	for i := range items {
		items[i] = getString(data[i*width : (i+1)*width])
	}
	return items, data[int(n)*width:], nil
}

// --- client -> server requests -------------------------------------------

// VerifyReq asks the server to check whether Username collides with an
// already-logged-in user.
type VerifyReq struct {
	Username string
}

func EncodeVerifyReq(r VerifyReq) []byte {
	buf := make([]byte, 4+UsernameMax)
	putHeader(buf, ReqVerify)
	putString(buf[4:], r.Username)
	return buf
}

func DecodeVerifyReq(body []byte) (VerifyReq, error) {
	if err := need(body, UsernameMax); err != nil {
		return VerifyReq{}, err
	}
	return VerifyReq{Username: getString(body[:UsernameMax])}, nil
}

// LoginReq creates a user session keyed by the packet's source address.
type LoginReq struct {
	Username string
}

func EncodeLoginReq(r LoginReq) []byte {
	buf := make([]byte, 4+UsernameMax)
	putHeader(buf, ReqLogin)
	putString(buf[4:], r.Username)
	return buf
}

func DecodeLoginReq(body []byte) (LoginReq, error) {
	if err := need(body, UsernameMax); err != nil {
		return LoginReq{}, err
	}
	return LoginReq{Username: getString(body[:UsernameMax])}, nil
}

// LogoutReq has no body; only the type tag and source address matter.
type LogoutReq struct{}

func EncodeLogoutReq() []byte {
	buf := make([]byte, 4)
	putHeader(buf, ReqLogout)
	return buf
}

// JoinReq subscribes the sending user to Channel.
type JoinReq struct {
	Channel string
}

func EncodeJoinReq(r JoinReq) []byte {
	buf := make([]byte, 4+ChannelMax)
	putHeader(buf, ReqJoin)
	putString(buf[4:], r.Channel)
	return buf
}

func DecodeJoinReq(body []byte) (JoinReq, error) {
	if err := need(body, ChannelMax); err != nil {
		return JoinReq{}, err
	}
	return JoinReq{Channel: getString(body[:ChannelMax])}, nil
}

// LeaveReq unsubscribes the sending user from Channel.
type LeaveReq struct {
	Channel string
}

func EncodeLeaveReq(r LeaveReq) []byte {
	buf := make([]byte, 4+ChannelMax)
	putHeader(buf, ReqLeave)
	putString(buf[4:], r.Channel)
	return buf
}

func DecodeLeaveReq(body []byte) (LeaveReq, error) {
	if err := need(body, ChannelMax); err != nil {
		return LeaveReq{}, err
	}
	return LeaveReq{Channel: getString(body[:ChannelMax])}, nil
}

// SayReq broadcasts Text to Channel.
type SayReq struct {
	Channel string
	Text    string
}

func EncodeSayReq(r SayReq) []byte {
	buf := make([]byte, 4+ChannelMax+SayMax)
	putHeader(buf, ReqSay)
	putString(buf[4:4+ChannelMax], r.Channel)
	putString(buf[4+ChannelMax:], r.Text)
	return buf
}

func DecodeSayReq(body []byte) (SayReq, error) {
	if err := need(body, ChannelMax+SayMax); err != nil {
		return SayReq{}, err
	}
	return SayReq{
		Channel: getString(body[:ChannelMax]),
		Text:    getString(body[ChannelMax : ChannelMax+SayMax]),
	}, nil
}

// ListReq has no body; it asks for every known channel name.
type ListReq struct{}

func EncodeListReq() []byte {
	buf := make([]byte, 4)
	putHeader(buf, ReqList)
	return buf
}

// WhoReq asks for every username subscribed to Channel.
type WhoReq struct {
	Channel string
}

func EncodeWhoReq(r WhoReq) []byte {
	buf := make([]byte, 4+ChannelMax)
	putHeader(buf, ReqWho)
	putString(buf[4:], r.Channel)
	return buf
}

func DecodeWhoReq(body []byte) (WhoReq, error) {
	if err := need(body, ChannelMax); err != nil {
		return WhoReq{}, err
	}
	return WhoReq{Channel: getString(body[:ChannelMax])}, nil
}

// KeepAliveReq has no body; it only refreshes the sender's last-seen time.
type KeepAliveReq struct{}

func EncodeKeepAliveReq() []byte {
	buf := make([]byte, 4)
	putHeader(buf, ReqKeepAlive)
	return buf
}

// --- server -> client texts ----------------------------------------------

// SayText is delivered to every local subscriber of Channel.
type SayText struct {
	Channel  string
	Username string
	Text     string
}

func EncodeSayText(t SayText) []byte {
	buf := make([]byte, 4+ChannelMax+UsernameMax+SayMax)
	putHeader(buf, TxtSay)
	off := 4
	putString(buf[off:off+ChannelMax], t.Channel)
	off += ChannelMax
	putString(buf[off:off+UsernameMax], t.Username)
	off += UsernameMax
	putString(buf[off:], t.Text)
	return buf
}

func DecodeSayText(body []byte) (SayText, error) {
	if err := need(body, ChannelMax+UsernameMax+SayMax); err != nil {
		return SayText{}, err
	}
	off := 0
	channel := getString(body[off : off+ChannelMax])
	off += ChannelMax
	username := getString(body[off : off+UsernameMax])
	off += UsernameMax
	text := getString(body[off : off+SayMax])
	return SayText{Channel: channel, Username: username, Text: text}, nil
}

// ListText carries the accumulated, de-duplicated set of channel names.
type ListText struct {
	Channels []string
}

func EncodeListText(t ListText) []byte {
	head := make([]byte, 4)
	putHeader(head, TxtList)
	return append(head, encodeStringList(t.Channels, ChannelMax)...)
}

func DecodeListText(body []byte) (ListText, error) {
	channels, _, err := decodeStringList(body, ChannelMax)
	if err != nil {
		return ListText{}, err
	}
	return ListText{Channels: channels}, nil
}

// WhoText carries the accumulated, de-duplicated set of usernames on Channel.
type WhoText struct {
	Channel string
	Users   []string
}

func EncodeWhoText(t WhoText) []byte {
	head := make([]byte, 4+ChannelMax)
	putHeader(head, TxtWho)
	putString(head[4:], t.Channel)
	return append(head, encodeStringList(t.Users, UsernameMax)...)
}

func DecodeWhoText(body []byte) (WhoText, error) {
	if err := need(body, ChannelMax); err != nil {
		return WhoText{}, err
	}
	channel := getString(body[:ChannelMax])
	users, _, err := decodeStringList(body[ChannelMax:], UsernameMax)
	if err != nil {
		return WhoText{}, err
	}
	return WhoText{Channel: channel, Users: users}, nil
}

// ErrorText is the uniform error reply sent to a misbehaving or unlucky client.
type ErrorText struct {
	Message string
}

func EncodeErrorText(t ErrorText) []byte {
	buf := make([]byte, 4+SayMax)
	putHeader(buf, TxtError)
	putString(buf[4:], t.Message)
	return buf
}

func DecodeErrorText(body []byte) (ErrorText, error) {
	if err := need(body, SayMax); err != nil {
		return ErrorText{}, err
	}
	return ErrorText{Message: getString(body[:SayMax])}, nil
}

// VerifyText answers a VERIFY query: Valid is true iff no collision was found.
type VerifyText struct {
	Valid bool
}

func EncodeVerifyText(t VerifyText) []byte {
	buf := make([]byte, 8)
	putHeader(buf, TxtVerify)
	v := uint32(0)
	if t.Valid {
		v = 1
	}
	binary.LittleEndian.PutUint32(buf[4:], v)
	return buf
}

func DecodeVerifyText(body []byte) (VerifyText, error) {
	if err := need(body, 4); err != nil {
		return VerifyText{}, err
	}
	return VerifyText{Valid: binary.LittleEndian.Uint32(body[:4]) != 0}, nil
}

// --- server <-> server ----------------------------------------------------

// S2SJoin floods a channel subscription to every neighbor but the sender.
type S2SJoin struct {
	Channel string
}

func EncodeS2SJoin(r S2SJoin) []byte {
	buf := make([]byte, 4+ChannelMax)
	putHeader(buf, ReqS2SJoin)
	putString(buf[4:], r.Channel)
	return buf
}

func DecodeS2SJoin(body []byte) (S2SJoin, error) {
	if err := need(body, ChannelMax); err != nil {
		return S2SJoin{}, err
	}
	return S2SJoin{Channel: getString(body[:ChannelMax])}, nil
}

// S2SLeave prunes the sender from Channel's subscriber list.
type S2SLeave struct {
	Channel string
}

func EncodeS2SLeave(r S2SLeave) []byte {
	buf := make([]byte, 4+ChannelMax)
	putHeader(buf, ReqS2SLeave)
	putString(buf[4:], r.Channel)
	return buf
}

func DecodeS2SLeave(body []byte) (S2SLeave, error) {
	if err := need(body, ChannelMax); err != nil {
		return S2SLeave{}, err
	}
	return S2SLeave{Channel: getString(body[:ChannelMax])}, nil
}

// S2SSay forwards one chat message through the mesh. ID is used to suppress
// re-delivery of the same message across loops in the subscription tree.
type S2SSay struct {
	ID       uint64
	Channel  string
	Username string
	Text     string
}

func EncodeS2SSay(r S2SSay) []byte {
	buf := make([]byte, 4+8+ChannelMax+UsernameMax+SayMax)
	putHeader(buf, ReqS2SSay)
	off := 4
	binary.LittleEndian.PutUint64(buf[off:], r.ID)
	off += 8
	putString(buf[off:off+ChannelMax], r.Channel)
	off += ChannelMax
	putString(buf[off:off+UsernameMax], r.Username)
	off += UsernameMax
	putString(buf[off:], r.Text)
	return buf
}

func DecodeS2SSay(body []byte) (S2SSay, error) {
	if err := need(body, 8+ChannelMax+UsernameMax+SayMax); err != nil {
		return S2SSay{}, err
	}
	off := 0
	id := binary.LittleEndian.Uint64(body[off:])
	off += 8
	channel := getString(body[off : off+ChannelMax])
	off += ChannelMax
	username := getString(body[off : off+UsernameMax])
	off += UsernameMax
	text := getString(body[off : off+SayMax])
	return S2SSay{ID: id, Channel: channel, Username: username, Text: text}, nil
}

// s2sHeader is the common prefix of every federated-traversal packet
// (LIST/WHO/VERIFY): a loop-suppression ID and the original client's
// reply address.
type s2sHeader struct {
	ID         uint64
	ClientAddr string
}

func encodeS2SHeader(h s2sHeader) []byte {
	buf := make([]byte, 8+IPMax)
	binary.LittleEndian.PutUint64(buf[:8], h.ID)
	putString(buf[8:], h.ClientAddr)
	return buf
}

func decodeS2SHeader(data []byte) (s2sHeader, []byte, error) {
	if err := need(data, 8+IPMax); err != nil {
		return s2sHeader{}, nil, err
	}
	h := s2sHeader{
		ID:         binary.LittleEndian.Uint64(data[:8]),
		ClientAddr: getString(data[8 : 8+IPMax]),
	}
	return h, data[8+IPMax:], nil
}

// S2SList carries a LIST traversal: the channels accumulated so far and the
// neighbors still unvisited.
type S2SList struct {
	ID         uint64
	ClientAddr string
	Channels   []string
	Neighbors  []string
}

func EncodeS2SList(r S2SList) []byte {
	head := make([]byte, 4)
	putHeader(head, ReqS2SList)
	buf := append(head, encodeS2SHeader(s2sHeader{ID: r.ID, ClientAddr: r.ClientAddr})...)
	buf = append(buf, encodeStringList(r.Channels, ChannelMax)...)
	buf = append(buf, encodeStringList(r.Neighbors, IPMax)...)
	return buf
}

func DecodeS2SList(body []byte) (S2SList, error) {
	h, rest, err := decodeS2SHeader(body)
	if err != nil {
		return S2SList{}, err
	}
	channels, rest, err := decodeStringList(rest, ChannelMax)
	if err != nil {
		return S2SList{}, err
	}
	neighbors, _, err := decodeStringList(rest, IPMax)
	if err != nil {
		return S2SList{}, err
	}
	return S2SList{ID: h.ID, ClientAddr: h.ClientAddr, Channels: channels, Neighbors: neighbors}, nil
}

// S2SWho carries a WHO traversal: the usernames seen on Channel so far and
// the neighbors still unvisited.
type S2SWho struct {
	ID         uint64
	Channel    string
	ClientAddr string
	Users      []string
	Neighbors  []string
}

func EncodeS2SWho(r S2SWho) []byte {
	head := make([]byte, 4+ChannelMax)
	putHeader(head, ReqS2SWho)
	putString(head[4:], r.Channel)
	buf := append(head, encodeS2SHeader(s2sHeader{ID: r.ID, ClientAddr: r.ClientAddr})...)
	buf = append(buf, encodeStringList(r.Users, UsernameMax)...)
	buf = append(buf, encodeStringList(r.Neighbors, IPMax)...)
	return buf
}

func DecodeS2SWho(body []byte) (S2SWho, error) {
	if err := need(body, ChannelMax); err != nil {
		return S2SWho{}, err
	}
	channel := getString(body[:ChannelMax])
	h, rest, err := decodeS2SHeader(body[ChannelMax:])
	if err != nil {
		return S2SWho{}, err
	}
	users, rest, err := decodeStringList(rest, UsernameMax)
	if err != nil {
		return S2SWho{}, err
	}
	neighbors, _, err := decodeStringList(rest, IPMax)
	if err != nil {
		return S2SWho{}, err
	}
	return S2SWho{ID: h.ID, Channel: channel, ClientAddr: h.ClientAddr, Users: users, Neighbors: neighbors}, nil
}

// S2SVerify carries a VERIFY traversal: the username being checked and the
// neighbors still unvisited. A receiving server that finds a local
// collision stops forwarding and replies negatively to ClientAddr directly.
type S2SVerify struct {
	ID         uint64
	Username   string
	ClientAddr string
	Neighbors  []string
}

func EncodeS2SVerify(r S2SVerify) []byte {
	head := make([]byte, 4+UsernameMax)
	putHeader(head, ReqS2SVerify)
	putString(head[4:], r.Username)
	buf := append(head, encodeS2SHeader(s2sHeader{ID: r.ID, ClientAddr: r.ClientAddr})...)
	buf = append(buf, encodeStringList(r.Neighbors, IPMax)...)
	return buf
}

func DecodeS2SVerify(body []byte) (S2SVerify, error) {
	if err := need(body, UsernameMax); err != nil {
		return S2SVerify{}, err
	}
	username := getString(body[:UsernameMax])
	h, rest, err := decodeS2SHeader(body[UsernameMax:])
	if err != nil {
		return S2SVerify{}, err
	}
	neighbors, _, err := decodeStringList(rest, IPMax)
	if err != nil {
		return S2SVerify{}, err
	}
	return S2SVerify{ID: h.ID, Username: username, ClientAddr: h.ClientAddr, Neighbors: neighbors}, nil
}

// S2SLeaf probes whether the receiving server can also prune itself from
// Channel's subscription tree. ID breaks loops the same way S2SSay's does.
type S2SLeaf struct {
	Channel string
	ID      uint64
}

func EncodeS2SLeaf(r S2SLeaf) []byte {
	buf := make([]byte, 4+ChannelMax+8)
	putHeader(buf, ReqS2SLeaf)
	putString(buf[4:4+ChannelMax], r.Channel)
	binary.LittleEndian.PutUint64(buf[4+ChannelMax:], r.ID)
	return buf
}

func DecodeS2SLeaf(body []byte) (S2SLeaf, error) {
	if err := need(body, ChannelMax+8); err != nil {
		return S2SLeaf{}, err
	}
	return S2SLeaf{
		Channel: getString(body[:ChannelMax]),
		ID:      binary.LittleEndian.Uint64(body[ChannelMax:]),
	}, nil
}

// S2SKeepAlive has no body; it only refreshes the sender's last-heard time.
type S2SKeepAlive struct{}

func EncodeS2SKeepAlive() []byte {
	buf := make([]byte, 4)
	putHeader(buf, ReqS2SKeepAlive)
	return buf
}
