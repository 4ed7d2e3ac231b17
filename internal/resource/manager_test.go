package resource

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func counterFactory(created, destroyed *int) (Factory[string, int], Destroyer[string, int]) {
	n := 0
	create := func(key string, consumer uuid.UUID, report ProgressFunc) (int, any, error) {
		*created++
		n++
		report(1.0)
		return n, nil, nil
	}
	destroy := func(key string, resource int, arg any) {
		*destroyed++
	}
	return create, destroy
}

func TestBorrowCreatesOnce(t *testing.T) {
	var created, destroyed int
	create, destroy := counterFactory(&created, &destroyed)
	m := New(create, destroy)

	a, b := uuid.New(), uuid.New()
	v1, err := m.Borrow("x", a)
	require.NoError(t, err)
	v2, err := m.Borrow("x", b)
	require.NoError(t, err)

	require.Equal(t, v1, v2)
	require.Equal(t, 1, created)
	require.ElementsMatch(t, []uuid.UUID{a, b}, m.ConsumersOf("x"))
}

func TestHandbackDestroysWhenEmpty(t *testing.T) {
	var created, destroyed int
	create, destroy := counterFactory(&created, &destroyed)
	m := New(create, destroy)

	a := uuid.New()
	_, err := m.Borrow("x", a)
	require.NoError(t, err)
	m.Handback("x", a)

	require.Equal(t, 1, destroyed)
	require.Empty(t, m.Entries())
}

func TestHandbackKeepsCustomData(t *testing.T) {
	var created, destroyed int
	create, destroy := counterFactory(&created, &destroyed)
	m := New(create, destroy)

	a := uuid.New()
	_, err := m.Borrow("x", a)
	require.NoError(t, err)
	m.SetCustomData("x", "pinned")
	m.Handback("x", a)

	require.Equal(t, 0, destroyed)
	m.SetCustomData("x", nil)
	require.Equal(t, 1, destroyed)
}

func TestPersistentCreatesEagerly(t *testing.T) {
	var created, destroyed int
	create, destroy := counterFactory(&created, &destroyed)
	m := New(create, destroy)

	err := m.SetLifetime("x", Persistent, uuid.New())
	require.NoError(t, err)
	require.Contains(t, m.Entries(), "x")
	require.Equal(t, 1, created)
}

func TestSetLifetimeOnDemandDestroysEagerlyWhenEmpty(t *testing.T) {
	var created, destroyed int
	create, destroy := counterFactory(&created, &destroyed)
	m := New(create, destroy)

	a := uuid.New()
	_, err := m.Borrow("x", a)
	require.NoError(t, err)
	err = m.SetLifetime("x", OnDemandHold, uuid.Nil)
	require.NoError(t, err)
	m.Handback("x", a)

	err = m.SetLifetime("x", OnDemand, uuid.Nil)
	require.NoError(t, err)
	require.Equal(t, 1, destroyed)
}

func TestCreateFailureLeavesNoEntry(t *testing.T) {
	create := func(key string, consumer uuid.UUID, report ProgressFunc) (int, any, error) {
		return 0, nil, fmt.Errorf("boom")
	}
	m := New(create, func(string, int, any) {})

	_, err := m.Borrow("x", uuid.New())
	require.Error(t, err)
	require.Empty(t, m.Entries())
}

func TestUpdateNotifiesAllButInitiatorForToBeChanged(t *testing.T) {
	var created, destroyed int
	create, destroy := counterFactory(&created, &destroyed)
	m := New(create, destroy)

	a, b := uuid.New(), uuid.New()
	_, err := m.Borrow("x", a)
	require.NoError(t, err)
	_, err = m.Borrow("x", b)
	require.NoError(t, err)

	var toldStale []uuid.UUID
	var gotTokens []any
	err = m.Update("x", a, UpdateHook[int]{
		ToBeChanged: func(old int) any {
			toldStale = append(toldStale, b)
			return "tok"
		},
		Changed: func(new int, token any) {
			gotTokens = append(gotTokens, token)
		},
	})
	require.NoError(t, err)
	require.Len(t, toldStale, 1)
	// b gets back the token it supplied; the initiator a supplied none.
	require.ElementsMatch(t, []any{"tok", nil}, gotTokens)
	require.Equal(t, 2, created)
	require.Equal(t, 1, destroyed)
}

func TestSubscribeReceivesProgress(t *testing.T) {
	var created, destroyed int
	create, destroy := counterFactory(&created, &destroyed)
	m := New(create, destroy)

	var got []float64
	m.Subscribe("x", func(f float64) { got = append(got, f) })
	_, err := m.Borrow("x", uuid.New())
	require.NoError(t, err)
	require.Equal(t, []float64{1.0}, got)
}
