package entity

import (
	"context"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveUniqueIDFirstFree(t *testing.T) {
	f := newServiceFixture(t)

	f.mock.ExpectQuery("SELECT EXISTS").WithArgs("report", "note").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	id, err := f.svc.resolveUniqueID(context.Background(), "note", "report")
	require.NoError(t, err)
	assert.Equal(t, "report", id)
}

func TestResolveUniqueIDFallsBackToRandomToken(t *testing.T) {
	f := newServiceFixture(t)

	// Every candidate in the sequential scan is taken.
	for i := 0; i < dedupScanLimit; i++ {
		f.mock.ExpectQuery("SELECT EXISTS").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	}

	id, err := f.svc.resolveUniqueID(context.Background(), "note", "report")
	require.NoError(t, err)
	assert.Regexp(t, `^report-[0-9a-f]{8}$`, id)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestRandomToken(t *testing.T) {
	a, err := randomToken(8)
	require.NoError(t, err)
	assert.Len(t, a, 8)

	b, err := randomToken(8)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	odd, err := randomToken(5)
	require.NoError(t, err)
	assert.Len(t, odd, 5)
}

func TestIDReserverSerializesPerBase(t *testing.T) {
	r := newIDReserver()

	var order []int
	var mu sync.Mutex

	unlock := r.lock("base")
	done := make(chan struct{})
	go func() {
		u := r.lock("base")
		mu.Lock()
		order = append(order, 2)
		mu.Unlock()
		u()
		close(done)
	}()

	mu.Lock()
	order = append(order, 1)
	mu.Unlock()
	unlock()
	<-done

	assert.Equal(t, []int{1, 2}, order)

	// Different bases do not contend.
	u1 := r.lock("a")
	u2 := r.lock("b")
	u1()
	u2()
}
