package intents

import "testing"

func TestQueueLifecycle(t *testing.T) {
	q := NewQueue(5, nil)
	id := q.Queue("group-1", KindSendMessage, []byte("hello"))

	found := q.Find("group-1", []State{StateToPublish}, nil)
	if len(found) != 1 || found[0].Id != id {
		t.Fatalf("expected intent in ToPublish, got %+v", found)
	}

	if err := q.SetPublished(id, []byte("hash"), nil, nil, 3); err != nil {
		t.Fatalf("set published: %v", err)
	}
	if err := q.SetCommitted(id); err != nil {
		t.Fatalf("set committed: %v", err)
	}
	if err := q.Delete(id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := q.Get(id); err == nil {
		t.Fatal("expected deleted intent to be gone")
	}
}

func TestPublishAttemptBoundPromotesToError(t *testing.T) {
	q := NewQueue(2, nil)
	id := q.Queue("group-1", KindSendMessage, nil)

	for i := 0; i < 2; i++ {
		exceeded, err := q.IncrementPublishAttempts(id)
		if err != nil {
			t.Fatalf("increment: %v", err)
		}
		if exceeded {
			t.Fatalf("did not expect bound exceeded at attempt %d", i+1)
		}
	}

	exceeded, err := q.IncrementPublishAttempts(id)
	if err != nil {
		t.Fatalf("increment: %v", err)
	}
	if !exceeded {
		t.Fatal("expected bound exceeded on 3rd attempt with max 2")
	}

	it, err := q.Get(id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if it.State != StateError {
		t.Fatalf("expected Error state, got %v", it.State)
	}
}

func TestFindFiltersByStateAndKind(t *testing.T) {
	q := NewQueue(5, nil)
	a := q.Queue("g", KindSendMessage, nil)
	b := q.Queue("g", KindKeyUpdate, nil)
	_ = q.SetPublished(a, []byte("h"), nil, nil, 1)

	published := q.Find("g", []State{StatePublished}, nil)
	if len(published) != 1 || published[0].Id != a {
		t.Fatalf("expected only a in Published, got %+v", published)
	}

	keyUpdates := q.Find("g", nil, []Kind{KindKeyUpdate})
	if len(keyUpdates) != 1 || keyUpdates[0].Id != b {
		t.Fatalf("expected only b as KeyUpdate, got %+v", keyUpdates)
	}
}
