package h3serve

import (
	"context"
	"testing"
	"time"

	"github.com/pgjones/h3serve/internal/tests"
)

func TestMailboxOrder(t *testing.T) {
	m := newMailbox()
	m.put(&RequestBody{Body: []byte("a"), MoreBody: true})
	m.put(&RequestBody{Body: []byte("b"), MoreBody: true})
	m.put(&RequestBody{Body: []byte("c")})

	for _, want := range []string{"a", "b", "c"} {
		msg, err := m.get(context.Background())
		tests.AssertNoError(t, err)
		tests.AssertEqual(t, want, string(msg.(*RequestBody).Body))
	}
}

func TestMailboxBlockedGet(t *testing.T) {
	m := newMailbox()
	got := make(chan InboundMessage, 1)
	go func() {
		msg, _ := m.get(context.Background())
		got <- msg
	}()

	time.Sleep(10 * time.Millisecond)
	m.put(&WebSocketConnect{})
	select {
	case msg := <-got:
		if _, ok := msg.(*WebSocketConnect); !ok {
			t.Errorf("unexpected message %T", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("get did not wake after put")
	}
}

func TestMailboxCloseDeliversFinalAfterDrain(t *testing.T) {
	m := newMailbox()
	m.put(&RequestBody{Body: []byte("pending")})
	m.close(&RequestDisconnect{})
	m.put(&RequestBody{Body: []byte("late")}) // dropped after close

	msg, err := m.get(context.Background())
	tests.AssertNoError(t, err)
	tests.AssertEqual(t, "pending", string(msg.(*RequestBody).Body))

	msg, err = m.get(context.Background())
	tests.AssertNoError(t, err)
	if _, ok := msg.(*RequestDisconnect); !ok {
		t.Errorf("expected the terminal message, got %T", msg)
	}

	// the terminal message repeats on further gets
	msg, _ = m.get(context.Background())
	if _, ok := msg.(*RequestDisconnect); !ok {
		t.Errorf("expected the terminal message again, got %T", msg)
	}
}

func TestMailboxCloseIdempotent(t *testing.T) {
	m := newMailbox()
	m.close(&WebSocketDisconnect{Code: 1000})
	m.close(&WebSocketDisconnect{Code: 1006})

	msg, err := m.get(context.Background())
	tests.AssertNoError(t, err)
	tests.AssertEqual(t, 1000, msg.(*WebSocketDisconnect).Code)
}

func TestMailboxGetHonorsContext(t *testing.T) {
	m := newMailbox()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := m.get(ctx)
	tests.AssertEqual(t, context.Canceled, err)
}
