package stt

import (
	"testing"
)

func TestMockClientScriptedResults(t *testing.T) {
	client := NewMockClientWithScript([]string{"first utterance", "second utterance"}, 100)
	if err := client.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if err := client.SendAudio(make([]byte, 100)); err != nil {
		t.Fatalf("SendAudio failed: %v", err)
	}

	partial := <-client.Results()
	if partial.IsFinal || partial.Text != "first utterance" {
		t.Errorf("expected partial first utterance, got %+v", partial)
	}
	final := <-client.Results()
	if !final.IsFinal || final.Text != "first utterance" {
		t.Errorf("expected final first utterance, got %+v", final)
	}
}

func TestMockClientRequiresStart(t *testing.T) {
	client := NewMockClient()
	if err := client.SendAudio([]byte{0x00}); err == nil {
		t.Error("expected error sending audio before Start")
	}
}

func TestMockClientStopFlushesPending(t *testing.T) {
	client := NewMockClientWithScript([]string{"leftover words"}, 1000)
	if err := client.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Below the threshold, nothing emitted yet
	if err := client.SendAudio(make([]byte, 500)); err != nil {
		t.Fatalf("SendAudio failed: %v", err)
	}
	select {
	case r := <-client.Results():
		t.Fatalf("unexpected early result: %+v", r)
	default:
	}

	if err := client.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	final := <-client.Results()
	if !final.IsFinal || final.Text != "leftover words" {
		t.Errorf("expected flushed final, got %+v", final)
	}
}

func TestMockClientCloseIdempotent(t *testing.T) {
	client := NewMockClient()
	if err := client.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}

	if _, ok := <-client.Results(); ok {
		t.Error("results channel should be closed")
	}
}
