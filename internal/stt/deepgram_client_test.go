package stt

import (
	"errors"
	"sync/atomic"
	"testing"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	"github.com/rs/zerolog"
)

func TestEventFromMessage(t *testing.T) {
	msg := &msginterfaces.MessageResponse{
		Type:    "Results",
		IsFinal: true,
		Channel: msginterfaces.Channel{
			Alternatives: []msginterfaces.Alternative{
				{Transcript: "turn the lights on", Confidence: 0.91},
				{Transcript: "turn the lightson", Confidence: 0.4},
			},
		},
	}

	ev, ok := eventFromMessage(msg)
	if !ok {
		t.Fatal("Expected Results message to produce an event")
	}
	if ev.Text != "turn the lights on" || !ev.IsFinal || ev.Confidence != 0.91 {
		t.Errorf("Unexpected event: %+v", ev)
	}

	if _, ok := eventFromMessage(&msginterfaces.MessageResponse{Type: "Metadata"}); ok {
		t.Error("Expected non-result message to be ignored")
	}
	if _, ok := eventFromMessage(nil); ok {
		t.Error("Expected nil message to be ignored")
	}

	empty, ok := eventFromMessage(&msginterfaces.MessageResponse{Type: "Results"})
	if !ok || empty.Text != "" {
		t.Errorf("Expected empty-text event to pass through, got %+v ok=%v", empty, ok)
	}
}

func TestLiveOptions(t *testing.T) {
	browser := liveOptions(BrowserOptions("nova-2", "en"))
	if browser.Endpointing != "false" || !browser.InterimResults || !browser.Punctuate {
		t.Errorf("Unexpected browser options: %+v", browser)
	}

	phone := liveOptions(TelephonyOptions("nova-2", "en"))
	if phone.Encoding != "mulaw" || phone.SampleRate != 8000 || phone.Channels != 1 || phone.Endpointing != "" {
		t.Errorf("Unexpected telephony options: %+v", phone)
	}
}

func TestMessageCallbackHandler(t *testing.T) {
	closing := &atomic.Bool{}
	l := &recordingListener{}
	cb := newMessageCallbackHandler(l, closing, zerolog.Nop())

	_ = cb.Message(&msginterfaces.MessageResponse{
		Type:    "Results",
		Channel: msginterfaces.Channel{Alternatives: []msginterfaces.Alternative{{Transcript: "hi"}}},
	})
	_ = cb.Close(&msginterfaces.CloseResponse{})

	events, errs := l.snapshot()
	if len(events) != 1 || events[0].Text != "hi" {
		t.Errorf("Expected one forwarded event, got %+v", events)
	}
	if len(errs) != 1 || !errors.Is(errs[0], errStreamClosed) {
		t.Errorf("Expected remote close to be reported, got %v", errs)
	}

	closing.Store(true)
	_ = cb.Close(&msginterfaces.CloseResponse{})
	_ = cb.Error(&msginterfaces.ErrorResponse{})
	if _, errs := l.snapshot(); len(errs) != 1 {
		t.Errorf("Expected no reports after a local close, got %v", errs)
	}
}
