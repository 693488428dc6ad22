package session

import "testing"

func TestParseClientFrameEvent(t *testing.T) {
	data := []byte(`["EVENT", {"id":"abc","pubkey":"deadbeef","created_at":1000,"kind":1,"tags":[],"content":"hi","sig":"00"}]`)

	frame, err := parseClientFrame(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if frame.label != "EVENT" || frame.event == nil {
		t.Fatalf("unexpected frame: %+v", frame)
	}
	if frame.event.ID != "abc" || frame.event.Kind != 1 {
		t.Fatalf("unexpected event: %+v", frame.event)
	}
}

func TestParseClientFrameReq(t *testing.T) {
	data := []byte(`["REQ", "sub1", {"kinds":[1,6]}]`)

	frame, err := parseClientFrame(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if frame.label != "REQ" || frame.subID != "sub1" {
		t.Fatalf("unexpected frame: %+v", frame)
	}
	if len(frame.filters) != 1 || len(frame.filters[0].Kinds) != 2 {
		t.Fatalf("unexpected filters: %+v", frame.filters)
	}
}

func TestParseClientFrameClose(t *testing.T) {
	frame, err := parseClientFrame([]byte(`["CLOSE", "sub1"]`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if frame.label != "CLOSE" || frame.subID != "sub1" {
		t.Fatalf("unexpected frame: %+v", frame)
	}
}

func TestParseClientFrameRejectsMalformed(t *testing.T) {
	if _, err := parseClientFrame([]byte(`not json`)); err == nil {
		t.Fatalf("expected error for malformed input")
	}
	if _, err := parseClientFrame([]byte(`["EVENT"]`)); err == nil {
		t.Fatalf("expected error for missing event body")
	}
}

func TestUpstreamKind1Detection(t *testing.T) {
	data := []byte(`["EVENT", "sub1", {"id":"xyz","pubkey":"aa","created_at":42,"kind":1,"tags":[],"content":"","sig":"00"}]`)

	id, createdAt, ok := upstreamKind1(data)
	if !ok || id != "xyz" || createdAt != 42 {
		t.Fatalf("expected kind-1 hit, got id=%q createdAt=%d ok=%v", id, createdAt, ok)
	}
}

func TestUpstreamKind1IgnoresOtherKinds(t *testing.T) {
	data := []byte(`["EVENT", "sub1", {"id":"xyz","kind":6}]`)
	if _, _, ok := upstreamKind1(data); ok {
		t.Fatalf("expected no match for non-kind-1 event")
	}
}

func TestUpstreamKind1IgnoresNonEventFrames(t *testing.T) {
	if _, _, ok := upstreamKind1([]byte(`["EOSE", "sub1"]`)); ok {
		t.Fatalf("expected no match for EOSE frame")
	}
}
