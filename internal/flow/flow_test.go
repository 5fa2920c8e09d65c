package flow

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nerrad567/panelsync/internal/broker"
)

type recordedPublish struct {
	brokerID, topic string
	payload         any
	opts            broker.PublishOptions
}

type fakePublisher struct{ pubs []recordedPublish }

func (f *fakePublisher) Publish(brokerID, topic string, payload any, opts broker.PublishOptions) {
	f.pubs = append(f.pubs, recordedPublish{brokerID, topic, payload, opts})
}

type fakeBroadcaster struct {
	channels []string
	payloads []any
}

func (f *fakeBroadcaster) Broadcast(channel string, payload any) {
	f.channels = append(f.channels, channel)
	f.payloads = append(f.payloads, payload)
}

type fakeRecorder struct{ triggers []string }

func (f *fakeRecorder) RecordTrigger(panelID, trigger string, _ time.Time) {
	f.triggers = append(f.triggers, panelID+"/"+trigger)
}

func TestDispatcher_FireReachesEverySink(t *testing.T) {
	pub := &fakePublisher{}
	ws := &fakeBroadcaster{}
	rec := &fakeRecorder{}
	d := NewDispatcher(pub, ws, rec)

	var seen []Event
	d.Subscribe(func(e Event) { seen = append(seen, e) })

	d.Fire(context.Background(), Event{PanelID: "p1", Trigger: ButtonOn, Tokens: ButtonTokens(0, "left", 0)})

	if len(seen) != 1 {
		t.Fatalf("listener saw %d events, want 1", len(seen))
	}
	e := seen[0]
	if e.ID == "" || e.Time.IsZero() {
		t.Errorf("event id/time not filled: %+v", e)
	}
	if e.Tokens["connector"] != 1 || e.Tokens["left_right"] != "left" {
		t.Errorf("tokens = %v, want 1-based connector and left", e.Tokens)
	}

	if len(pub.pubs) != 1 {
		t.Fatalf("published %d, want 1", len(pub.pubs))
	}
	p := pub.pubs[0]
	if p.brokerID != broker.DefaultAlias || p.topic != "panelsync/flow/p1/button_on" || p.opts.Retain {
		t.Errorf("publish = %+v", p)
	}
	body, err := json.Marshal(p.payload)
	if err != nil || !json.Valid(body) {
		t.Errorf("payload not JSON encodable: %v", err)
	}

	if len(ws.channels) != 1 || ws.channels[0] != WSChannel {
		t.Errorf("broadcast channels = %v", ws.channels)
	}
	if len(rec.triggers) != 1 || rec.triggers[0] != "p1/button_on" {
		t.Errorf("recorded = %v", rec.triggers)
	}
}

func TestDispatcher_NilSinks(t *testing.T) {
	d := NewDispatcher(nil, nil, nil)
	d.Fire(context.Background(), Event{PanelID: "p1", Trigger: PageChanged})
}
