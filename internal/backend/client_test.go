package backend

import (
	"context"
	"errors"
	"testing"

	"github.com/kiscz/mcrouter/internal/mcproto"
)

type fakeTransport struct {
	reply *mcproto.Reply
	err   error
}

func (f *fakeTransport) Send(ctx context.Context, c *Client, req *mcproto.Req) (*mcproto.Reply, error) {
	return f.reply, f.err
}

func TestClientSendWithNoTransportReturnsConnectError(t *testing.T) {
	c := newClient(Identity{Addr: "a:11211", Protocol: "ascii", Transport: "tcp"})
	reply := c.Send(context.Background(), &mcproto.Req{Op: mcproto.OpGet})
	if reply.Result != mcproto.ResultConnectError {
		t.Fatalf("expected ResultConnectError, got %v", reply.Result)
	}
}

func TestClientSendWrapsTransportError(t *testing.T) {
	c := newClient(Identity{Addr: "a:11211", Protocol: "ascii", Transport: "tcp"})
	c.SetTransport(&fakeTransport{err: errors.New("boom")})
	reply := c.Send(context.Background(), &mcproto.Req{Op: mcproto.OpGet})
	if reply.Result != mcproto.ResultRemoteError {
		t.Fatalf("expected ResultRemoteError, got %v", reply.Result)
	}
}

func TestClientSendReturnsTransportReply(t *testing.T) {
	c := newClient(Identity{Addr: "a:11211", Protocol: "ascii", Transport: "tcp"})
	want := &mcproto.Reply{Op: mcproto.OpGet, Result: mcproto.ResultOK, Value: []byte("v")}
	c.SetTransport(&fakeTransport{reply: want})
	got := c.Send(context.Background(), &mcproto.Req{Op: mcproto.OpGet})
	if got != want {
		t.Fatal("expected Send to return the transport's reply unchanged")
	}
	if min, avg, _ := c.RTT().Flush(); min < 0 || avg < 0 {
		t.Fatalf("expected RTT sample recorded, got min=%d avg=%d", min, avg)
	}
}

func TestSetTKONotifiesMonitor(t *testing.T) {
	c := newClient(Identity{Addr: "a:11211", Protocol: "ascii", Transport: "tcp"})
	mon := &recordingMonitor{}
	c.SetMonitor(mon)

	c.SetTKO(true)
	if !c.TKO() {
		t.Fatal("expected TKO() true")
	}
	if mon.downCalls != 1 {
		t.Fatalf("expected OnDown called once, got %d", mon.downCalls)
	}

	c.SetTKO(false)
	if c.TKO() {
		t.Fatal("expected TKO() false")
	}
	if mon.responseCalls != 1 {
		t.Fatalf("expected OnResponse called once, got %d", mon.responseCalls)
	}
}

type recordingMonitor struct {
	downCalls     int
	responseCalls int
}

func (m *recordingMonitor) OnResponse(c *Client)  { m.responseCalls++ }
func (m *recordingMonitor) OnDown(c *Client)       { m.downCalls++ }
func (m *recordingMonitor) MaySend(c *Client) bool { return true }
func (m *recordingMonitor) RemoveClient(c *Client) {}

func TestIdentityHashIsStable(t *testing.T) {
	id := Identity{Addr: "a:11211", Protocol: "ascii", Transport: "tcp"}
	if id.Hash() != id.Hash() {
		t.Fatal("expected Identity.Hash to be deterministic")
	}
}
