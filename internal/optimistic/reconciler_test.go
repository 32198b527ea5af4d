package optimistic

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type view struct {
	Status string
	Token  string
}

func TestRollback_RestoresPreviousExactly(t *testing.T) {
	r := New[string, view]()
	a := view{Status: "none"}

	id, err := r.Apply("offer-1", a, view{Status: "pending"})
	require.NoError(t, err)

	got, ok := r.Current("offer-1")
	require.True(t, ok)
	assert.Equal(t, "pending", got.Status)

	restored, err := r.Rollback(id)
	require.NoError(t, err)
	assert.Equal(t, a, restored)
	assert.Zero(t, r.Len())
	assert.Zero(t, r.Pending("offer-1"))
}

func TestKeysAreIndependent(t *testing.T) {
	r := New[string, view]()
	id1, err := r.Apply("offer-1", view{Status: "none"}, view{Status: "pending"})
	require.NoError(t, err)
	id2, err := r.Apply("offer-2", view{Status: "old"}, view{Status: "pending"})
	require.NoError(t, err)

	require.NoError(t, r.Confirm("offer-2", id2))

	restored, err := r.Rollback(id1)
	require.NoError(t, err)
	assert.Equal(t, "none", restored.Status)
}

func TestConfirmThenRollbackIsNoop(t *testing.T) {
	r := New[string, view]()
	id, err := r.Apply("offer-1", view{Status: "none"}, view{Status: "pending"})
	require.NoError(t, err)
	require.NoError(t, r.Confirm("offer-1", id))

	_, err = r.Rollback(id)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, r.Confirm("offer-1", id), ErrNotFound)
}

func TestConfirm_WrongKey(t *testing.T) {
	r := New[string, view]()
	id, err := r.Apply("offer-1", view{}, view{Status: "pending"})
	require.NoError(t, err)

	assert.ErrorIs(t, r.Confirm("offer-2", id), ErrNotFound)
	assert.Equal(t, 1, r.Pending("offer-1"))
}

func TestMultipleInFlightPerKey(t *testing.T) {
	r := New[string, view]()
	s0, s1, s2 := view{Status: "s0"}, view{Status: "s1"}, view{Status: "s2"}

	a, err := r.Apply("k", s0, s1)
	require.NoError(t, err)
	b, err := r.Apply("k", s1, s2)
	require.NoError(t, err)
	assert.Equal(t, 2, r.Pending("k"))

	restored, err := r.Rollback(b)
	require.NoError(t, err)
	assert.Equal(t, s1, restored)

	cur, ok := r.Current("k")
	require.True(t, ok)
	assert.Equal(t, s1, cur)

	restored, err = r.Rollback(a)
	require.NoError(t, err)
	assert.Equal(t, s0, restored)
}

func TestRollbackOfSupersededUpdate(t *testing.T) {
	t.Run("newer pending inherits previous state", func(t *testing.T) {
		r := New[string, view]()
		s0, s1, s2 := view{Status: "s0"}, view{Status: "s1"}, view{Status: "s2"}

		a, err := r.Apply("k", s0, s1)
		require.NoError(t, err)
		b, err := r.Apply("k", s1, s2)
		require.NoError(t, err)

		_, err = r.Rollback(a)
		assert.ErrorIs(t, err, ErrSuperseded)

		restored, err := r.Rollback(b)
		require.NoError(t, err)
		assert.Equal(t, s0, restored)
	})

	t.Run("newer confirmed wins", func(t *testing.T) {
		r := New[string, view]()
		a, err := r.Apply("k", view{Status: "s0"}, view{Status: "s1"})
		require.NoError(t, err)
		b, err := r.Apply("k", view{Status: "s1"}, view{Status: "s2"})
		require.NoError(t, err)
		require.NoError(t, r.Confirm("k", b))

		_, err = r.Rollback(a)
		assert.ErrorIs(t, err, ErrSuperseded)
		assert.Zero(t, r.Len())
	})
}

func TestApply_IDFailure(t *testing.T) {
	r := New[string, view]()
	r.newID = func() (string, error) { return "", errors.New("entropy exhausted") }

	_, err := r.Apply("k", view{}, view{})
	assert.Error(t, err)
	assert.Zero(t, r.Len())
}

func TestConcurrentApplyAndSettle(t *testing.T) {
	r := New[string, int]()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("k%d", i%10)
			id, err := r.Apply(key, i, i+1)
			if !assert.NoError(t, err) {
				return
			}
			if i%2 == 0 {
				assert.NoError(t, r.Confirm(key, id))
				return
			}
			_, err = r.Rollback(id)
			if err != nil {
				assert.ErrorIs(t, err, ErrSuperseded)
			}
		}(i)
	}
	wg.Wait()
	assert.Zero(t, r.Len())
}
