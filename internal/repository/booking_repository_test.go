package repository

import (
    "context"
    "testing"
    "time"

    "github.com/DATA-DOG/go-sqlmock"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/iliyamo/studyhall-marketplace/internal/model"
)

func newMock(t *testing.T) (*BookingRepo, sqlmock.Sqlmock) {
    t.Helper()
    db, mock, err := sqlmock.New()
    require.NoError(t, err)
    t.Cleanup(func() { _ = db.Close() })
    return NewBookingRepo(db), mock
}

func TestHasOverlapTx(t *testing.T) {
    repo, mock := newMock(t)
    ctx := context.Background()
    start := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
    end := time.Date(2026, 7, 5, 0, 0, 0, 0, time.UTC)
    now := time.Date(2026, 6, 30, 10, 0, 0, 0, time.UTC)

    mock.ExpectBegin()
    mock.ExpectQuery(`SELECT COUNT\(\*\) FROM bookings b\s+WHERE b.seat_id = \? AND b.start_date <= \? AND b.end_date >= \?`).
        WithArgs(uint64(3), end, start, uint64(0), now).
        WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(1))
    mock.ExpectQuery(`SELECT COUNT\(\*\) FROM bookings b`).
        WithArgs(uint64(4), end, start, uint64(0), now).
        WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(0))
    mock.ExpectRollback()

    tx, err := repo.DB().BeginTx(ctx, nil)
    require.NoError(t, err)
    taken, err := repo.HasOverlapTx(ctx, tx, 3, start, end, now, 0)
    require.NoError(t, err)
    assert.True(t, taken)
    taken, err = repo.HasOverlapTx(ctx, tx, 4, start, end, now, 0)
    require.NoError(t, err)
    assert.False(t, taken)
    require.NoError(t, tx.Rollback())
    assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConfirmTx_WrongStateIsConflict(t *testing.T) {
    repo, mock := newMock(t)
    ctx := context.Background()

    mock.ExpectBegin()
    mock.ExpectExec(`UPDATE bookings SET status = \?, payment_status = \?, payment_method = \?, expires_at = NULL`).
        WithArgs(model.BookingConfirmed, model.PaymentPaid, model.MethodEKQR, uint64(9), model.BookingPendingPayment, model.BookingExpired).
        WillReturnResult(sqlmock.NewResult(0, 0))
    mock.ExpectRollback()

    tx, err := repo.DB().BeginTx(ctx, nil)
    require.NoError(t, err)
    err = repo.ConfirmTx(ctx, tx, 9, model.MethodEKQR)
    assert.ErrorIs(t, err, ErrConflict)
    require.NoError(t, tx.Rollback())
    assert.NoError(t, mock.ExpectationsWereMet())
}

func TestList_EmptyHallScopeMatchesNothing(t *testing.T) {
    repo, mock := newMock(t)
    out, err := repo.List(context.Background(), BookingFilter{HallIDs: []uint64{}})
    require.NoError(t, err)
    assert.Empty(t, out)
    assert.NoError(t, mock.ExpectationsWereMet())
}

func TestList_FiltersAndPaging(t *testing.T) {
    repo, mock := newMock(t)
    from := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)

    mock.ExpectQuery(`WHERE 1=1 AND h.owner_id = \? AND b.status = \? AND b.end_date >= \? ORDER BY b.created_at DESC, b.id DESC LIMIT \? OFFSET \?`).
        WithArgs(uint64(5), model.BookingConfirmed, from, 20, 40).
        WillReturnRows(sqlmock.NewRows([]string{"id"}))

    out, err := repo.List(context.Background(), BookingFilter{
        OwnerID: 5,
        Status:  model.BookingConfirmed,
        From:    &from,
        Page:    Page{Limit: 20, Offset: 40},
    })
    require.NoError(t, err)
    assert.Empty(t, out)
    assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSearch_NormalisesTerm(t *testing.T) {
    repo, mock := newMock(t)
    mock.ExpectQuery(`WHERE b.reference = \? OR u.email = \? OR u.phone = \?`).
        WithArgs("SH-AB12", "sh-ab12", "sh-AB12", 25).
        WillReturnRows(sqlmock.NewRows([]string{"id"}))

    _, err := repo.Search(context.Background(), "  sh-AB12 ", 25)
    require.NoError(t, err)
    assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBookingIsActive(t *testing.T) {
    now := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
    later := now.Add(time.Minute)
    earlier := now.Add(-time.Minute)

    assert.True(t, model.Booking{Status: model.BookingConfirmed}.IsActive(now))
    assert.True(t, model.Booking{Status: model.BookingPendingPayment, ExpiresAt: &later}.IsActive(now))
    assert.False(t, model.Booking{Status: model.BookingPendingPayment, ExpiresAt: &earlier}.IsActive(now))
    assert.False(t, model.Booking{Status: model.BookingPendingPayment}.IsActive(now))
    assert.False(t, model.Booking{Status: model.BookingExpired}.IsActive(now))
    assert.False(t, model.Booking{Status: model.BookingCancelled}.IsActive(now))
}
