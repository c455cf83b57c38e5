package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// storeStub implements UserStore with overridable behavior per test.
type storeStub struct {
	getUser        func(ctx context.Context, id string) (*User, error)
	getUserByEmail func(ctx context.Context, email string) (*User, error)
	upsertUser     func(ctx context.Context, data UpsertUser) (*User, bool, error)
}

func (s *storeStub) GetUser(ctx context.Context, id string) (*User, error) {
	if s.getUser != nil {
		return s.getUser(ctx, id)
	}
	return nil, nil
}

func (s *storeStub) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	if s.getUserByEmail != nil {
		return s.getUserByEmail(ctx, email)
	}
	return nil, nil
}

func (s *storeStub) UpsertUser(ctx context.Context, data UpsertUser) (*User, bool, error) {
	if s.upsertUser != nil {
		return s.upsertUser(ctx, data)
	}
	return &User{ID: data.ID, Email: data.Email}, true, nil
}

// recorderStub records metric events for assertions.
type recorderStub struct {
	mu               sync.Mutex
	discoveries      []string
	discoveryCounts  []int
	upserts          []string
	lookups          []string
	serializations   []string
	deserializations []string
	transitions      []string
	retries          []string
}

func (r *recorderStub) RecordDiscovery(outcome string, attempts int, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.discoveries = append(r.discoveries, outcome)
	r.discoveryCounts = append(r.discoveryCounts, attempts)
}

func (r *recorderStub) RecordUpsert(outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.upserts = append(r.upserts, outcome)
}

func (r *recorderStub) RecordLookup(outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lookups = append(r.lookups, outcome)
}

func (r *recorderStub) RecordSerialization(outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.serializations = append(r.serializations, outcome)
}

func (r *recorderStub) RecordDeserialization(outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deserializations = append(r.deserializations, outcome)
}

func (r *recorderStub) RecordCircuitTransition(name, from, to string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, from+"->"+to)
}

func (r *recorderStub) RecordRetry(policy, operation string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retries = append(r.retries, policy+"/"+operation)
}

func TestSerializeAcceptsPrincipalWrapper(t *testing.T) {
	codec := NewSessionCodec(&storeStub{}, nil, nil)

	id, err := codec.Serialize(&Principal{User: &User{ID: "sub-42"}, IsNew: true})
	if err != nil {
		t.Fatalf("Serialize returned error: %v", err)
	}
	if id != "sub-42" {
		t.Fatalf("expected sub-42, got %q", id)
	}
}

func TestSerializeAcceptsBareUser(t *testing.T) {
	codec := NewSessionCodec(&storeStub{}, nil, nil)

	id, err := codec.Serialize(&User{ID: "sub-7"})
	if err != nil {
		t.Fatalf("Serialize returned error: %v", err)
	}
	if id != "sub-7" {
		t.Fatalf("expected sub-7, got %q", id)
	}
}

func TestSerializeFailsWithoutID(t *testing.T) {
	rec := &recorderStub{}
	codec := NewSessionCodec(&storeStub{}, rec, nil)

	if _, err := codec.Serialize(&Principal{User: &User{}}); !errors.Is(err, ErrNoPrincipalID) {
		t.Fatalf("expected ErrNoPrincipalID, got %v", err)
	}
	if _, err := codec.Serialize(nil); !errors.Is(err, ErrNoPrincipalID) {
		t.Fatalf("expected ErrNoPrincipalID for nil principal, got %v", err)
	}
	if len(rec.serializations) != 2 || rec.serializations[0] != "failure" {
		t.Errorf("expected failure serialization metrics, got %v", rec.serializations)
	}
}

func TestDeserializeByID(t *testing.T) {
	want := &User{ID: "sub-1", Email: "u@example.com"}
	rec := &recorderStub{}
	codec := NewSessionCodec(&storeStub{
		getUser: func(ctx context.Context, id string) (*User, error) {
			if id != "sub-1" {
				t.Errorf("unexpected id %q", id)
			}
			return want, nil
		},
	}, rec, nil)

	got := codec.Deserialize(context.Background(), "sub-1")
	if got == nil || got.ID != want.ID {
		t.Fatalf("expected user %v, got %v", want, got)
	}
	if len(rec.deserializations) != 1 || rec.deserializations[0] != "success" {
		t.Errorf("expected success metric, got %v", rec.deserializations)
	}
}

func TestDeserializeRecoversLegacyEmailSession(t *testing.T) {
	alice := &User{ID: "sub-alice", Email: "alice@example.com"}
	rec := &recorderStub{}
	codec := NewSessionCodec(&storeStub{
		getUser: func(ctx context.Context, id string) (*User, error) {
			return nil, nil
		},
		getUserByEmail: func(ctx context.Context, email string) (*User, error) {
			if email != "alice@example.com" {
				t.Errorf("unexpected email %q", email)
			}
			return alice, nil
		},
	}, rec, nil)

	got := codec.Deserialize(context.Background(), "alice@example.com")
	if got == nil || got.ID != "sub-alice" {
		t.Fatalf("expected alice's principal, got %v", got)
	}
	if len(rec.deserializations) != 1 || rec.deserializations[0] != "recovered_by_email" {
		t.Errorf("expected recovered_by_email metric, got %v", rec.deserializations)
	}
}

func TestDeserializeReturnsNotFoundSentinel(t *testing.T) {
	rec := &recorderStub{}
	codec := NewSessionCodec(&storeStub{}, rec, nil)

	if got := codec.Deserialize(context.Background(), "unknown-sub"); got != nil {
		t.Fatalf("expected nil for unknown id, got %v", got)
	}
	// A non-email id never attempts the email fallback.
	if len(rec.deserializations) != 1 || rec.deserializations[0] != "not_found" {
		t.Errorf("expected not_found metric, got %v", rec.deserializations)
	}
}

func TestDeserializeNeverPropagatesFailures(t *testing.T) {
	cases := map[string]*storeStub{
		"store error": {
			getUser: func(ctx context.Context, id string) (*User, error) {
				return nil, errors.New("connection reset")
			},
		},
		"email lookup error": {
			getUser: func(ctx context.Context, id string) (*User, error) {
				return nil, nil
			},
			getUserByEmail: func(ctx context.Context, email string) (*User, error) {
				return nil, errors.New("timeout")
			},
		},
		"store panic": {
			getUser: func(ctx context.Context, id string) (*User, error) {
				panic("driver bug")
			},
		},
	}

	for name, stub := range cases {
		t.Run(name, func(t *testing.T) {
			codec := NewSessionCodec(stub, &recorderStub{}, nil)
			if got := codec.Deserialize(context.Background(), "alice@example.com"); got != nil {
				t.Fatalf("expected not-found result, got %v", got)
			}
		})
	}
}

func TestDeserializeEmptyID(t *testing.T) {
	codec := NewSessionCodec(&storeStub{
		getUser: func(ctx context.Context, id string) (*User, error) {
			t.Error("store should not be consulted for empty id")
			return nil, nil
		},
	}, nil, nil)

	if got := codec.Deserialize(context.Background(), ""); got != nil {
		t.Fatalf("expected nil for empty id, got %v", got)
	}
}
