package channels

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeChannel struct {
	name       string
	connectErr error
	in         chan *IncomingMessage
	connected  bool
}

func newFake(name string, err error) *fakeChannel {
	return &fakeChannel{name: name, connectErr: err, in: make(chan *IncomingMessage, 4)}
}

func (f *fakeChannel) Name() string { return f.name }
func (f *fakeChannel) Connect(context.Context) error {
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	return nil
}
func (f *fakeChannel) Disconnect() error { f.connected = false; return nil }
func (f *fakeChannel) Receive() <-chan *IncomingMessage { return f.in }
func (f *fakeChannel) SendMessage(context.Context, *OutgoingMessage) error { return nil }
func (f *fakeChannel) SendImage(context.Context, *ImageMessage) error { return nil }
func (f *fakeChannel) BotIdentity() string { return "B" }
func (f *fakeChannel) IsConnected() bool { return f.connected }
func (f *fakeChannel) Health() HealthStatus { return HealthStatus{Connected: f.connected} }

func TestManager_RegisterDuplicate(t *testing.T) {
	t.Parallel()
	m := NewManager(nil)
	if err := m.Register(newFake("slack", nil)); err != nil {
		t.Fatal(err)
	}
	if err := m.Register(newFake("slack", nil)); err == nil {
		t.Error("duplicate Register succeeded")
	}
}

func TestManager_MergesMessages(t *testing.T) {
	t.Parallel()
	m := NewManager(nil)
	ok := newFake("ok", nil)
	bad := newFake("bad", errors.New("no token"))
	_ = m.Register(ok)
	_ = m.Register(bad)

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop()

	ok.in <- &IncomingMessage{Text: "hello"}

	select {
	case msg := <-m.Messages():
		if msg.Text != "hello" || msg.Channel != "ok" {
			t.Errorf("msg = %+v", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no message relayed")
	}

	health := m.HealthAll()
	if !health["ok"].Connected || health["bad"].Connected {
		t.Errorf("health = %+v", health)
	}
	if names := m.Names(); len(names) != 2 || names[0] != "bad" {
		t.Errorf("Names = %v", names)
	}
}

func TestManager_AllFail(t *testing.T) {
	t.Parallel()
	m := NewManager(nil)
	_ = m.Register(newFake("a", errors.New("x")))

	if err := m.Start(context.Background()); err == nil {
		t.Error("Start succeeded with no connected channel")
	}
	m.Stop()
}
