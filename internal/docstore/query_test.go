package docstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedChats(t *testing.T, s *Store) {
	t.Helper()
	ctx := context.Background()
	chats := []struct {
		id   string
		data Data
	}{
		{"g1", Data{"isGroup": true, "isPrivateGroup": false, "groupName": "Go Club", "participants": []string{"a", "b"}, "rank": 2}},
		{"g2", Data{"isGroup": true, "isPrivateGroup": true, "groupName": "Secret", "participants": []string{"a"}, "rank": 1}},
		{"a_b", Data{"isGroup": false, "participants": []string{"a", "b"}, "rank": 2}},
		{"b_c", Data{"isGroup": false, "participants": []string{"b", "c"}}},
	}
	for _, c := range chats {
		require.NoError(t, s.Set(ctx, Join("chats", c.id), c.data))
	}
}

func TestQuery_Filters(t *testing.T) {
	s := createTestStore(t)
	seedChats(t, s)
	ctx := context.Background()

	tests := []struct {
		name  string
		query Query
		want  []string
	}{
		{"all in insertion order", From("chats"), []string{"g1", "g2", "a_b", "b_c"}},
		{"equal bool", From("chats").Where("isGroup", OpEqual, true), []string{"g1", "g2"}},
		{"compound", From("chats").Where("isGroup", OpEqual, true).Where("isPrivateGroup", OpEqual, false), []string{"g1"}},
		{"not equal skips missing", From("chats").Where("isPrivateGroup", OpNotEqual, true), []string{"g1"}},
		{"array contains", From("chats").Where("participants", OpArrayContains, "a"), []string{"g1", "g2", "a_b"}},
		{"in", From("chats").Where("groupName", OpIn, []string{"Secret", "Nope"}), []string{"g2"}},
		{"document id", From("chats").Where(DocumentID, OpEqual, "b_c"), []string{"b_c"}},
		{"range on numbers", From("chats").Where("rank", OpGreaterOrEqual, 2), []string{"g1", "a_b"}},
		{"range ignores other kinds", From("chats").Where("groupName", OpLess, 5), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			docs, err := s.Query(ctx, tt.query)
			require.NoError(t, err)
			got := ids(docs)
			if tt.want == nil {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestQuery_OrderAndLimits(t *testing.T) {
	s := createTestStore(t)
	seedChats(t, s)
	ctx := context.Background()

	// Missing fields are excluded; equal ranks keep insertion order.
	docs, err := s.Query(ctx, From("chats").OrderBy("rank", Asc))
	require.NoError(t, err)
	assert.Equal(t, []string{"g2", "g1", "a_b"}, ids(docs))

	docs, err = s.Query(ctx, From("chats").OrderBy("rank", Desc))
	require.NoError(t, err)
	assert.Equal(t, []string{"g1", "a_b", "g2"}, ids(docs))

	docs, err = s.Query(ctx, From("chats").OrderBy("rank", Asc).Limit(2))
	require.NoError(t, err)
	assert.Equal(t, []string{"g2", "g1"}, ids(docs))

	docs, err = s.Query(ctx, From("chats").OrderBy("rank", Asc).LimitToLast(2))
	require.NoError(t, err)
	assert.Equal(t, []string{"g1", "a_b"}, ids(docs))
}

func TestQuery_Subcollection(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "chats/c1/messages/m1", Data{"text": "one"}))
	require.NoError(t, s.Set(ctx, "chats/c2/messages/m2", Data{"text": "two"}))

	docs, err := s.Query(ctx, From(Join("chats", "c1", "messages")))
	require.NoError(t, err)
	assert.Equal(t, []string{"m1"}, ids(docs))
}

func TestQuery_InvalidArguments(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.Query(ctx, From("chats/c1"))
	assert.True(t, IsInvalidArgument(err))

	_, err = s.Query(ctx, From("chats").Where("x", Op("~"), 1))
	assert.True(t, IsInvalidArgument(err))

	_, err = s.Query(ctx, From("chats").Where("x", OpIn, "not-a-list"))
	assert.True(t, IsInvalidArgument(err))
}

func TestQuery_BuilderIsImmutable(t *testing.T) {
	s := createTestStore(t)
	seedChats(t, s)
	ctx := context.Background()

	base := From("chats").Where("isGroup", OpEqual, true)
	_ = base.Where("isPrivateGroup", OpEqual, true)

	docs, err := s.Query(ctx, base)
	require.NoError(t, err)
	assert.Len(t, docs, 2)
}

func TestTxn_Query(t *testing.T) {
	s := createTestStore(t)
	seedChats(t, s)

	var n int
	err := s.RunTransaction(context.Background(), func(ctx context.Context, tx *Txn) error {
		docs, err := tx.Query(From("chats").Where("isGroup", OpEqual, false))
		n = len(docs)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
