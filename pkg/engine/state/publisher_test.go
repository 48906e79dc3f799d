package state

import (
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/edgehive/engine-runner/pkg/logging"
)

func testLogger() logging.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logging.NewLogrusAdapter(l)
}

func recv(t *testing.T, ch <-chan State) State {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for a state")
		return State{}
	}
}

func TestSubscribeReplaysCurrentState(t *testing.T) {
	p := NewPublisher(testLogger())
	p.SetProcessing(2)

	ch, cancel := p.Subscribe()
	defer cancel()

	got := recv(t, ch)
	if got.Kind != KindProcessing || got.ActiveCount != 2 {
		t.Errorf("replayed state = %+v, want Processing(2)", got)
	}
}

func TestProcessingZeroCollapsesToReady(t *testing.T) {
	p := NewPublisher(testLogger())
	ch, cancel := p.Subscribe()
	defer cancel()
	recv(t, ch) // initial Ready

	p.SetProcessing(1)
	if got := recv(t, ch); got.Kind != KindProcessing || got.ActiveCount != 1 {
		t.Fatalf("state = %+v, want Processing(1)", got)
	}
	p.SetProcessing(0)
	if got := recv(t, ch); got.Kind != KindReady {
		t.Fatalf("state = %+v, want Ready", got)
	}
	if got := p.Current(); got.Kind != KindReady || got.ActiveCount != 0 {
		t.Errorf("Current = %+v, want Ready", got)
	}
}

func TestDuplicateStatesAreCoalesced(t *testing.T) {
	p := NewPublisher(testLogger())
	ch, cancel := p.Subscribe()
	defer cancel()
	recv(t, ch) // initial Ready

	p.SetProcessing(3)
	p.SetProcessing(3)
	p.SetProcessing(4)

	if got := recv(t, ch); got.ActiveCount != 3 {
		t.Fatalf("first state = %+v, want Processing(3)", got)
	}
	if got := recv(t, ch); got.ActiveCount != 4 {
		t.Fatalf("second state = %+v, want Processing(4); duplicate was delivered", got)
	}
}

func TestDownloadOverridesProcessingView(t *testing.T) {
	p := NewPublisher(testLogger())

	p.SetProcessing(1)
	p.SetDownloading("qwen3-0.6b", 10, 640_000_000)
	if got := p.Current(); got.Kind != KindDownloading || got.Download.Percent != 10 {
		t.Fatalf("Current = %+v, want Downloading 10%%", got)
	}

	// Processing changes are retained but hidden while downloading.
	p.SetProcessing(2)
	if got := p.Current(); got.Kind != KindDownloading {
		t.Fatalf("Current = %+v, want Downloading", got)
	}

	p.SetDownloading("qwen3-0.6b", 100, 640_000_000)
	p.ClearDownloading()
	got := p.Current()
	if got.Kind != KindProcessing || got.ActiveCount != 2 {
		t.Fatalf("Current after ClearDownloading = %+v, want Processing(2)", got)
	}

	p.SetProcessing(0)
	if got := p.Current(); got.Kind != KindReady {
		t.Errorf("Current = %+v, want Ready", got)
	}
}

func TestErrorState(t *testing.T) {
	p := NewPublisher(testLogger())
	p.SetError("model directory missing", true)

	got := p.Current()
	if got.Kind != KindError {
		t.Fatalf("Current = %+v, want Error", got)
	}
	if !got.Error.Recoverable || got.Error.Message != "model directory missing" {
		t.Errorf("Error payload = %+v", got.Error)
	}
}

func TestSlowSubscriberSeesLatestState(t *testing.T) {
	p := NewPublisher(testLogger())
	ch, cancel := p.Subscribe()
	defer cancel()

	// Publish far more states than the subscriber buffer holds without
	// consuming any. The publisher must not block, and the newest state
	// must be retrievable.
	for i := 1; i <= subscriberBuffer*4; i++ {
		p.SetProcessing(i)
	}

	var last State
	for {
		select {
		case s := <-ch:
			last = s
			continue
		default:
		}
		break
	}
	if last.ActiveCount != subscriberBuffer*4 {
		t.Errorf("latest delivered state = %+v, want Processing(%d)", last, subscriberBuffer*4)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	p := NewPublisher(testLogger())
	ch, cancel := p.Subscribe()
	recv(t, ch)
	cancel()
	cancel() // safe to call twice

	if _, ok := <-ch; ok {
		t.Error("channel still open after unsubscribe")
	}

	// Publishing after unsubscribe must not panic.
	p.SetProcessing(1)
}

func TestDownloadingClampsPercent(t *testing.T) {
	tests := []struct {
		in   int
		want int
	}{
		{-5, 0},
		{0, 0},
		{42, 42},
		{100, 100},
		{140, 100},
	}
	for _, tt := range tests {
		if got := Downloading("m", tt.in, 0).Download.Percent; got != tt.want {
			t.Errorf("Downloading percent %d = %d, want %d", tt.in, got, tt.want)
		}
	}
}
