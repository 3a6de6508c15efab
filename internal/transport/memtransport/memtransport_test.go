package memtransport

import (
	"context"
	"testing"
)

func TestPublishToTopicThenQuery(t *testing.T) {
	tp := New()
	ctx := context.Background()

	seq1, err := tp.PublishToTopic(ctx, "group-1", []byte("a"))
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	seq2, err := tp.PublishToTopic(ctx, "group-1", []byte("b"))
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if seq2 != seq1+1 {
		t.Fatalf("expected monotonic sequence ids, got %d then %d", seq1, seq2)
	}

	envs, err := tp.QueryEnvelopes(ctx, "group-1", 0, 10)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(envs) != 2 {
		t.Fatalf("expected 2 envelopes, got %d", len(envs))
	}

	envs, err = tp.QueryEnvelopes(ctx, "group-1", 1, 10)
	if err != nil {
		t.Fatalf("query after cursor: %v", err)
	}
	if len(envs) != 1 || string(envs[0].UnsignedOriginatorEnvelopeBytes) != "b" {
		t.Fatalf("expected only the second envelope after cursor 1, got %+v", envs)
	}
}

func TestSubscribeReceivesPublishedEnvelope(t *testing.T) {
	tp := New()
	ctx := context.Background()

	ch, err := tp.Subscribe(ctx, []string{"group-1"}, nil)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if _, err := tp.PublishToTopic(ctx, "group-1", []byte("hello")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case env := <-ch:
		if string(env.UnsignedOriginatorEnvelopeBytes) != "hello" {
			t.Fatalf("unexpected envelope: %+v", env)
		}
	default:
		t.Fatal("expected an envelope to be delivered to the subscriber")
	}
}

func TestGetInboxIdsResolvesRegisteredAddress(t *testing.T) {
	tp := New()
	tp.RegisterAddress("0xabc", "inbox-1")

	out, err := tp.GetInboxIds(context.Background(), []string{"0xabc", "0xunknown"})
	if err != nil {
		t.Fatalf("get inbox ids: %v", err)
	}
	if out[0].InboxId != "inbox-1" {
		t.Fatalf("expected inbox-1, got %q", out[0].InboxId)
	}
	if out[1].InboxId != "" {
		t.Fatalf("expected unresolved address to map to empty inbox id, got %q", out[1].InboxId)
	}
}
