package projection

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPredicate_Matches(t *testing.T) {
	doc := Document{
		"ethAddress":  "0xabc",
		"thematics":   []interface{}{float64(1), float64(4)},
		"whitelisted": []interface{}{"0xdef"},
	}

	tests := []struct {
		name string
		pred Predicate
		want bool
	}{
		{"all", All(), true},
		{"equal scalar", EqualTo("ethAddress", "0xabc"), true},
		{"equal scalar miss", EqualTo("ethAddress", "0xABC"), false},
		{"equal int against float", EqualTo("thematics", 4), true},
		{"equal array element", EqualTo("whitelisted", "0xdef"), true},
		{"missing field", EqualTo("email", "x"), false},
		{"contained in", ContainedIn("ethAddress", "0x1", "0xabc"), true},
		{"contained in miss", ContainedIn("ethAddress", "0x1", "0x2"), false},
		{"contained in empty", ContainedIn("ethAddress"), false},
		{"contained in strings", ContainedInStrings("whitelisted", []string{"0xdef"}), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.pred.Matches(doc))
		})
	}
}

func TestMemoryStore_SaveGetQuery(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	id, err := store.Save(ctx, Contests, Document{"name": "Clean Water", "availableFunds": 5})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	_, err = store.Save(ctx, Contests, Document{"name": "Reforest"})
	require.NoError(t, err)

	doc, err := store.Get(ctx, Contests, id)
	require.NoError(t, err)
	assert.Equal(t, id, doc.ID())
	assert.Equal(t, float64(5), doc["availableFunds"])

	all, err := store.Query(ctx, Contests, All())
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "Clean Water", all[0]["name"])
	assert.Equal(t, "Reforest", all[1]["name"])

	// Replacing by id keeps the insertion position
	doc["name"] = "Clean Water II"
	_, err = store.Save(ctx, Contests, doc)
	require.NoError(t, err)
	all, _ = store.Query(ctx, Contests, All())
	assert.Equal(t, "Clean Water II", all[0]["name"])
	assert.Equal(t, 2, store.Count(Contests))

	_, err = store.Get(ctx, Contests, "missing")
	assert.True(t, IsNotFound(err))
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	id, err := store.Save(ctx, Organisations, Document{"whitelisted": []string{"0xa"}})
	require.NoError(t, err)

	doc, _ := store.Get(ctx, Organisations, id)
	doc["whitelisted"] = append(doc["whitelisted"].([]interface{}), "0xb")

	again, _ := store.Get(ctx, Organisations, id)
	assert.Len(t, again["whitelisted"], 1)
}

func TestMemoryStore_AppendUnique(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	id, _ := store.Save(ctx, Contests, Document{"name": "c"})

	require.NoError(t, store.AppendUnique(ctx, Contests, id, "addrActionCreators", "0xabc"))
	require.NoError(t, store.AppendUnique(ctx, Contests, id, "addrActionCreators", "0xabc"))
	require.NoError(t, store.AppendUnique(ctx, Contests, id, "addrActionCreators", "0xdef"))

	doc, _ := store.Get(ctx, Contests, id)
	assert.Equal(t, []interface{}{"0xabc", "0xdef"}, doc["addrActionCreators"])

	err := store.AppendUnique(ctx, Contests, "missing", "addrActionCreators", "0xabc")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_Increment(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	id, _ := store.Save(ctx, Actions, Document{"name": "a", "nbOfVotes": 0})

	require.NoError(t, store.Increment(ctx, Actions, id, "nbOfVotes", 1))
	require.NoError(t, store.Increment(ctx, Actions, id, "nbOfVotes", 2))
	require.NoError(t, store.Increment(ctx, Actions, id, "other", 1))

	doc, _ := store.Get(ctx, Actions, id)
	assert.Equal(t, float64(3), doc["nbOfVotes"])
	assert.Equal(t, float64(1), doc["other"])

	assert.ErrorIs(t, store.Increment(ctx, Actions, id, "nbOfVotes", -1), ErrNegativeDelta)
}

func TestMemoryStore_Subscribe(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	sub, err := store.Subscribe(ctx, Organisations, EqualTo("ethAddress", "0xabc"))
	require.NoError(t, err)
	defer sub.Close()

	_, err = store.Save(ctx, Organisations, Document{"ethAddress": "0xother"})
	require.NoError(t, err)
	id, err := store.Save(ctx, Organisations, Document{"ethAddress": "0xabc"})
	require.NoError(t, err)

	select {
	case change := <-sub.C:
		assert.Equal(t, id, change.ID)
		assert.Equal(t, ChangeSaved, change.Kind)
		assert.Equal(t, "0xabc", change.Document["ethAddress"])
	case <-time.After(time.Second):
		t.Fatal("expected a change notification")
	}

	select {
	case change := <-sub.C:
		t.Fatalf("unexpected notification for %v", change.Document)
	default:
	}
}

func TestMemoryStore_SubscribeKeepsLatest(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	sub, err := store.Subscribe(ctx, Actions, All())
	require.NoError(t, err)
	defer sub.Close()

	id, _ := store.Save(ctx, Actions, Document{"nbOfVotes": 0})
	for i := 0; i < 5; i++ {
		require.NoError(t, store.Increment(ctx, Actions, id, "nbOfVotes", 1))
	}

	change := <-sub.C
	assert.Equal(t, ChangeIncrement, change.Kind)
	assert.Equal(t, float64(5), change.Document["nbOfVotes"])
}

func TestMemoryStore_SubscriptionClose(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	sub, err := store.Subscribe(ctx, Contests, All())
	require.NoError(t, err)
	assert.Equal(t, 1, store.feed.SubscriberCount(Contests))

	sub.Close()
	sub.Close()
	assert.Equal(t, 0, store.feed.SubscriberCount(Contests))

	_, ok := <-sub.C
	assert.False(t, ok)

	_, err = store.Save(ctx, Contests, Document{"name": "after close"})
	assert.NoError(t, err)
}

func TestLocalFeed_CloseEndsSubscriptions(t *testing.T) {
	feed := NewLocalFeed()
	sub, err := feed.Subscribe(context.Background(), Participants, All())
	require.NoError(t, err)

	require.NoError(t, feed.Close())
	_, ok := <-sub.C
	assert.False(t, ok)
	sub.Close()

	late, err := feed.Subscribe(context.Background(), Participants, All())
	require.NoError(t, err)
	_, ok = <-late.C
	assert.False(t, ok)
}
