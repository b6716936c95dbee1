package memstore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nexum/internal/storage"
	"nexum/pkg/apperr"
)

type rec struct {
	Name  string `msgpack:"name"`
	Count int    `msgpack:"count"`
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, "things", "a", rec{Name: "first", Count: 1}))

	var got rec
	require.NoError(t, s.Load(ctx, "things", "a", &got))
	assert.Equal(t, rec{Name: "first", Count: 1}, got)
}

func TestLoadMissingIsNotFound(t *testing.T) {
	s := New()
	var got rec
	err := s.Load(context.Background(), "things", "nope", &got)
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.NotFound))
}

func TestDelete(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, "things", "a", rec{Name: "x"}))

	ok, err := s.Delete(ctx, "things", "a")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Delete(ctx, "things", "a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFindOrdersByID(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, "things", "b", rec{Count: 2}))
	require.NoError(t, s.Save(ctx, "things", "a", rec{Count: 1}))
	require.NoError(t, s.Save(ctx, "things", "c", rec{Count: 3}))

	rows, err := s.LoadAll(ctx, "things")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "a", rows[0].ID)
	assert.Equal(t, "c", rows[2].ID)
}

func TestAtomicCommitsTogether(t *testing.T) {
	s := New()
	ctx := context.Background()

	err := s.Atomic(ctx, func(ctx context.Context, tx storage.Storage) error {
		if err := tx.Save(ctx, "things", "a", rec{Count: 1}); err != nil {
			return err
		}
		return tx.Save(ctx, "things", "b", rec{Count: 2})
	})
	require.NoError(t, err)

	var a, b rec
	require.NoError(t, s.Load(ctx, "things", "a", &a))
	require.NoError(t, s.Load(ctx, "things", "b", &b))
	assert.Equal(t, 1, a.Count)
	assert.Equal(t, 2, b.Count)
}

func TestAtomicRollsBackOnError(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, "things", "a", rec{Count: 1}))

	boom := errors.New("boom")
	err := s.Atomic(ctx, func(ctx context.Context, tx storage.Storage) error {
		if err := tx.Save(ctx, "things", "a", rec{Count: 99}); err != nil {
			return err
		}
		if err := tx.Save(ctx, "things", "new", rec{Count: 5}); err != nil {
			return err
		}
		if _, err := tx.Delete(ctx, "things", "a"); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	var a rec
	require.NoError(t, s.Load(ctx, "things", "a", &a))
	assert.Equal(t, 1, a.Count, "pre-existing row untouched")

	ok, err := s.Exists(ctx, "things", "new")
	require.NoError(t, err)
	assert.False(t, ok, "write inside failed region discarded")
}

func TestAtomicViewSeesOwnWrites(t *testing.T) {
	s := New()
	ctx := context.Background()

	err := s.Atomic(ctx, func(ctx context.Context, tx storage.Storage) error {
		if err := tx.Save(ctx, "things", "a", rec{Count: 7}); err != nil {
			return err
		}
		var got rec
		if err := tx.Load(ctx, "things", "a", &got); err != nil {
			return err
		}
		assert.Equal(t, 7, got.Count)

		rows, err := tx.LoadAll(ctx, "things")
		if err != nil {
			return err
		}
		assert.Len(t, rows, 1)
		return nil
	})
	require.NoError(t, err)
}

func TestOuterReadsDuringAtomicSeePreState(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, "things", "a", rec{Count: 1}))

	err := s.Atomic(ctx, func(ctx context.Context, tx storage.Storage) error {
		if err := tx.Save(ctx, "things", "a", rec{Count: 2}); err != nil {
			return err
		}
		// Reads through the store (not the view) must not block and
		// must not observe the uncommitted write.
		var got rec
		if err := s.Load(ctx, "things", "a", &got); err != nil {
			return err
		}
		assert.Equal(t, 1, got.Count)
		return nil
	})
	require.NoError(t, err)

	var got rec
	require.NoError(t, s.Load(ctx, "things", "a", &got))
	assert.Equal(t, 2, got.Count)
}

func TestNestedAtomicSharesRegion(t *testing.T) {
	s := New()
	ctx := context.Background()

	err := s.Atomic(ctx, func(ctx context.Context, tx storage.Storage) error {
		return tx.Atomic(ctx, func(ctx context.Context, inner storage.Storage) error {
			return inner.Save(ctx, "things", "a", rec{Count: 3})
		})
	})
	require.NoError(t, err)

	var got rec
	require.NoError(t, s.Load(ctx, "things", "a", &got))
	assert.Equal(t, 3, got.Count)
}
