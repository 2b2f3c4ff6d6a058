package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/and161185/keycache/internal/errs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"
)

func newDB(t *testing.T) (*DB, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	return &DB{Pool: mock}, mock
}

var (
	insertCardRe = regexp.QuoteMeta(`INSERT INTO cards (card_id, user_id, last_update, data_blob, active)`)
	updateCardRe = regexp.QuoteMeta(`UPDATE cards SET data_blob = $4, last_update = GREATEST(`) + `.*` +
		regexp.QuoteMeta(`WHERE card_id = $1 AND user_id = $2 AND last_update = $3 RETURNING last_update`)
	deleteCardRe = regexp.QuoteMeta(`UPDATE cards SET active = false, data_blob = '{}'`) + `.*` +
		regexp.QuoteMeta(`WHERE card_id = $1 AND user_id = $2 RETURNING last_update`)
	listCardsRe = regexp.QuoteMeta(`SELECT card_id, user_id, last_update, data_blob, active FROM cards WHERE user_id = $1 AND last_update > $2 ORDER BY last_update ASC`)
	getCardRe   = regexp.QuoteMeta(`SELECT card_id, user_id, last_update, data_blob, active FROM cards WHERE card_id = $1 AND user_id = $2`)
)

func ts(ms int) time.Time {
	return time.Date(2024, 5, 1, 10, 0, 0, ms*int(time.Millisecond), time.UTC)
}

func TestCardRepo_Create_OK_and_Duplicate(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewCardRepo(db)
	ctx := context.Background()

	mock.ExpectQuery(insertCardRe).
		WithArgs("c1", "u1", `{"iv64":"a","cipherText64":"b"}`).
		WillReturnRows(pgxmock.NewRows([]string{"last_update"}).AddRow(ts(123)))
	v, err := r.Create(ctx, "u1", "c1", `{"iv64":"a","cipherText64":"b"}`)
	require.NoError(t, err)
	require.Equal(t, "c1", v.ID)
	require.True(t, v.Version.Equal(ts(123)))

	mock.ExpectQuery(insertCardRe).
		WithArgs("c1", "u1", "x").
		WillReturnError(&pgconn.PgError{Code: "23505"})
	_, err = r.Create(ctx, "u1", "c1", "x")
	require.ErrorIs(t, err, errs.ErrAlreadyExists)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCardRepo_Update_OK(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewCardRepo(db)

	mock.ExpectQuery(updateCardRe).
		WithArgs("c1", "u1", ts(123), "E2").
		WillReturnRows(pgxmock.NewRows([]string{"last_update"}).AddRow(ts(124)))
	v, err := r.Update(context.Background(), "u1", "c1", ts(123), "E2")
	require.NoError(t, err)
	require.True(t, v.Version.After(ts(123)))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCardRepo_Update_ZeroRowsIsConflict(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewCardRepo(db)

	mock.ExpectQuery(updateCardRe).
		WithArgs("c1", "u1", ts(100), "E3").
		WillReturnError(pgx.ErrNoRows)
	_, err := r.Update(context.Background(), "u1", "c1", ts(100), "E3")
	require.ErrorIs(t, err, errs.ErrVersionConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCardRepo_Update_DBError(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewCardRepo(db)

	boom := errors.New("boom")
	mock.ExpectQuery(updateCardRe).
		WithArgs("c1", "u1", pgxmock.AnyArg(), "E").
		WillReturnError(boom)
	_, err := r.Update(context.Background(), "u1", "c1", ts(1), "E")
	require.ErrorIs(t, err, boom)
	require.NotErrorIs(t, err, errs.ErrVersionConflict)
}

func TestCardRepo_SoftDelete(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewCardRepo(db)
	ctx := context.Background()

	mock.ExpectQuery(deleteCardRe).
		WithArgs("c1", "u1").
		WillReturnRows(pgxmock.NewRows([]string{"last_update"}).AddRow(ts(200)))
	v, err := r.SoftDelete(ctx, "u1", "c1")
	require.NoError(t, err)
	require.True(t, v.Version.Equal(ts(200)))

	mock.ExpectQuery(deleteCardRe).
		WithArgs("nope", "u1").
		WillReturnError(pgx.ErrNoRows)
	_, err = r.SoftDelete(ctx, "u1", "nope")
	require.ErrorIs(t, err, errs.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCardRepo_List_IncludesInactive(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewCardRepo(db)

	since := ts(0)
	mock.ExpectQuery(listCardsRe).
		WithArgs("u1", since).
		WillReturnRows(pgxmock.NewRows([]string{"card_id", "user_id", "last_update", "data_blob", "active"}).
			AddRow("c1", "u1", ts(10), `{"iv64":"a","cipherText64":"b"}`, true).
			AddRow("c2", "u1", ts(20), `{}`, false))

	rows, err := r.List(context.Background(), "u1", since)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.True(t, rows[0].Active)
	require.False(t, rows[1].Active)
	require.Equal(t, "{}", rows[1].DataBlob)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCardRepo_List_Empty(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewCardRepo(db)

	mock.ExpectQuery(listCardsRe).
		WithArgs("u1", pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"card_id", "user_id", "last_update", "data_blob", "active"}))
	rows, err := r.List(context.Background(), "u1", ts(0))
	require.NoError(t, err)
	require.NotNil(t, rows)
	require.Empty(t, rows)
}

func TestCardRepo_Get(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewCardRepo(db)
	ctx := context.Background()

	mock.ExpectQuery(getCardRe).
		WithArgs("c1", "u1").
		WillReturnRows(pgxmock.NewRows([]string{"card_id", "user_id", "last_update", "data_blob", "active"}).
			AddRow("c1", "u1", ts(5), "blob", true))
	row, err := r.Get(ctx, "u1", "c1")
	require.NoError(t, err)
	require.Equal(t, "blob", row.DataBlob)

	mock.ExpectQuery(getCardRe).
		WithArgs("c9", "u1").
		WillReturnError(pgx.ErrNoRows)
	_, err = r.Get(ctx, "u1", "c9")
	require.ErrorIs(t, err, errs.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
