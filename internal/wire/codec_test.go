package wire

import (
	"reflect"
	"strings"
	"testing"
)

func TestJoinReqRoundTrip(t *testing.T) {
	want := JoinReq{Channel: "dev"}
	raw := EncodeJoinReq(want)

	typ, body, err := PeekType(raw)
	if err != nil {
		t.Fatalf("PeekType: %v", err)
	}
	if typ != ReqJoin {
		t.Fatalf("got type %v, want %v", typ, ReqJoin)
	}

	got, err := DecodeJoinReq(body)
	if err != nil {
		t.Fatalf("DecodeJoinReq: %v", err)
	}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestSayReqRoundTrip(t *testing.T) {
	want := SayReq{Channel: "dev", Text: "hello there"}
	_, body, err := PeekType(EncodeSayReq(want))
	if err != nil {
		t.Fatalf("PeekType: %v", err)
	}
	got, err := DecodeSayReq(body)
	if err != nil {
		t.Fatalf("DecodeSayReq: %v", err)
	}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestUsernameTruncatedNotOverrun(t *testing.T) {
	long := strings.Repeat("x", UsernameMax+10)
	raw := EncodeLoginReq(LoginReq{Username: long})
	if len(raw) != 4+UsernameMax {
		t.Fatalf("got len %d, want %d", len(raw), 4+UsernameMax)
	}
	_, body, _ := PeekType(raw)
	got, err := DecodeLoginReq(body)
	if err != nil {
		t.Fatalf("DecodeLoginReq: %v", err)
	}
	if len(got.Username) != UsernameMax-1 {
		t.Errorf("got username len %d, want %d (truncated to leave a NUL)", len(got.Username), UsernameMax-1)
	}
}

func TestListTextRoundTrip(t *testing.T) {
	want := ListText{Channels: []string{"Common", "dev", "ops"}}
	_, body, err := PeekType(EncodeListText(want))
	if err != nil {
		t.Fatalf("PeekType: %v", err)
	}
	got, err := DecodeListText(body)
	if err != nil {
		t.Fatalf("DecodeListText: %v", err)
	}
	if !reflect.DeepEqual(got.Channels, want.Channels) {
		t.Errorf("got %v, want %v", got.Channels, want.Channels)
	}
}

func TestListTextEmpty(t *testing.T) {
	_, body, _ := PeekType(EncodeListText(ListText{}))
	got, err := DecodeListText(body)
	if err != nil {
		t.Fatalf("DecodeListText: %v", err)
	}
	if len(got.Channels) != 0 {
		t.Errorf("got %v, want empty", got.Channels)
	}
}

func TestWhoTextRoundTrip(t *testing.T) {
	want := WhoText{Channel: "dev", Users: []string{"alice", "bob"}}
	_, body, err := PeekType(EncodeWhoText(want))
	if err != nil {
		t.Fatalf("PeekType: %v", err)
	}
	got, err := DecodeWhoText(body)
	if err != nil {
		t.Fatalf("DecodeWhoText: %v", err)
	}
	if got.Channel != want.Channel || !reflect.DeepEqual(got.Users, want.Users) {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestVerifyTextRoundTrip(t *testing.T) {
	for _, valid := range []bool{true, false} {
		_, body, err := PeekType(EncodeVerifyText(VerifyText{Valid: valid}))
		if err != nil {
			t.Fatalf("PeekType: %v", err)
		}
		got, err := DecodeVerifyText(body)
		if err != nil {
			t.Fatalf("DecodeVerifyText: %v", err)
		}
		if got.Valid != valid {
			t.Errorf("got %v, want %v", got.Valid, valid)
		}
	}
}

func TestS2SSayRoundTrip(t *testing.T) {
	want := S2SSay{ID: 0xdeadbeefcafebabe, Channel: "dev", Username: "alice", Text: "hi"}
	_, body, err := PeekType(EncodeS2SSay(want))
	if err != nil {
		t.Fatalf("PeekType: %v", err)
	}
	got, err := DecodeS2SSay(body)
	if err != nil {
		t.Fatalf("DecodeS2SSay: %v", err)
	}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestS2SListRoundTrip(t *testing.T) {
	want := S2SList{
		ID:         42,
		ClientAddr: "127.0.0.1:5001",
		Channels:   []string{"Common", "dev"},
		Neighbors:  []string{"10.0.0.2:4002", "10.0.0.3:4003"},
	}
	_, body, err := PeekType(EncodeS2SList(want))
	if err != nil {
		t.Fatalf("PeekType: %v", err)
	}
	got, err := DecodeS2SList(body)
	if err != nil {
		t.Fatalf("DecodeS2SList: %v", err)
	}
	if got.ID != want.ID || got.ClientAddr != want.ClientAddr ||
		!reflect.DeepEqual(got.Channels, want.Channels) || !reflect.DeepEqual(got.Neighbors, want.Neighbors) {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestS2SVerifyRoundTrip(t *testing.T) {
	want := S2SVerify{
		ID:         7,
		Username:   "alice",
		ClientAddr: "127.0.0.1:5001",
		Neighbors:  []string{"10.0.0.2:4002"},
	}
	_, body, err := PeekType(EncodeS2SVerify(want))
	if err != nil {
		t.Fatalf("PeekType: %v", err)
	}
	got, err := DecodeS2SVerify(body)
	if err != nil {
		t.Fatalf("DecodeS2SVerify: %v", err)
	}
	if got.ID != want.ID || got.Username != want.Username || got.ClientAddr != want.ClientAddr ||
		!reflect.DeepEqual(got.Neighbors, want.Neighbors) {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestS2SLeafRoundTrip(t *testing.T) {
	want := S2SLeaf{Channel: "dev", ID: 99}
	_, body, err := PeekType(EncodeS2SLeaf(want))
	if err != nil {
		t.Fatalf("PeekType: %v", err)
	}
	got, err := DecodeS2SLeaf(body)
	if err != nil {
		t.Fatalf("DecodeS2SLeaf: %v", err)
	}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestDecodeTruncatedReturnsError(t *testing.T) {
	if _, err := DecodeJoinReq([]byte{1, 2, 3}); err == nil {
		t.Error("expected error decoding truncated JoinReq")
	}
	if _, err := DecodeS2SList([]byte{1, 2, 3}); err == nil {
		t.Error("expected error decoding truncated S2SList")
	}
}

func TestPeekTypeUnknown(t *testing.T) {
	raw := make([]byte, 4)
	raw[0] = 0xff
	raw[1] = 0xff
	raw[2] = 0xff
	raw[3] = 0xff
	typ, _, err := PeekType(raw)
	if err != nil {
		t.Fatalf("PeekType: %v", err)
	}
	if typ.String() != "UNKNOWN" {
		t.Errorf("got %v, want UNKNOWN", typ.String())
	}
}
