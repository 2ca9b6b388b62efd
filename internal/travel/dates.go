package travel

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// TimestampLayout is how flight and booking timestamps are stored.
const TimestampLayout = "2006-01-02 15:04:05.000000-07:00"

var now = time.Now

var timestampLayouts = []string{
	TimestampLayout,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05-07",
	"2006-01-02 15:04:05Z07:00",
	time.RFC3339Nano,
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseTimestamp parses the timestamp formats found in the travel database
// and the ones models tend to produce. Values without an offset are UTC.
func ParseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

var flightTimeColumns = []string{
	"scheduled_departure",
	"scheduled_arrival",
	"actual_departure",
	"actual_arrival",
}

// ShiftDates moves every flight time and booking date by the same amount so
// that the latest actual departure becomes at. NULL and "\N" values are
// left alone. It returns the applied shift.
func (d *DB) ShiftDates(ctx context.Context, at time.Time) (time.Duration, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	latest, err := latestDeparture(ctx, tx)
	if err != nil {
		return 0, err
	}
	shift := at.Sub(latest)

	for _, col := range flightTimeColumns {
		query := fmt.Sprintf("SELECT flight_id, %s FROM flights", col)
		update := fmt.Sprintf("UPDATE flights SET %s = ? WHERE flight_id = ?", col)
		if err := shiftColumn(ctx, tx, query, update, shift); err != nil {
			return 0, fmt.Errorf("failed to shift flights.%s: %w", col, err)
		}
	}
	err = shiftColumn(ctx, tx,
		"SELECT book_ref, book_date FROM bookings",
		"UPDATE bookings SET book_date = ? WHERE book_ref = ?",
		shift)
	if err != nil {
		return 0, fmt.Errorf("failed to shift bookings.book_date: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit date shift: %w", err)
	}
	return shift, nil
}

func latestDeparture(ctx context.Context, tx *sql.Tx) (time.Time, error) {
	rows, err := tx.QueryContext(ctx, "SELECT actual_departure FROM flights")
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read departures: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var latest time.Time
	for rows.Next() {
		var v sql.NullString
		if err := rows.Scan(&v); err != nil {
			return time.Time{}, err
		}
		if !v.Valid || v.String == `\N` || v.String == "" {
			continue
		}
		t, err := ParseTimestamp(v.String)
		if err != nil {
			return time.Time{}, err
		}
		if t.After(latest) {
			latest = t
		}
	}
	if err := rows.Err(); err != nil {
		return time.Time{}, err
	}
	if latest.IsZero() {
		return time.Time{}, errors.New("no flight has an actual departure")
	}
	return latest, nil
}

// shiftColumn reads (key, value) pairs with query and writes each shifted
// value back with update. Rows are collected first since the transaction
// holds the only connection.
func shiftColumn(ctx context.Context, tx *sql.Tx, query, update string, shift time.Duration) error {
	rows, err := tx.QueryContext(ctx, query)
	if err != nil {
		return err
	}

	type pair struct {
		key   interface{}
		value string
	}
	var pairs []pair
	for rows.Next() {
		var key interface{}
		var v sql.NullString
		if err := rows.Scan(&key, &v); err != nil {
			_ = rows.Close()
			return err
		}
		if !v.Valid || v.String == `\N` || v.String == "" {
			continue
		}
		pairs = append(pairs, pair{key: normalize(key), value: v.String})
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return err
	}
	_ = rows.Close()

	for _, p := range pairs {
		t, err := ParseTimestamp(p.value)
		if err != nil {
			return err
		}
		shifted := t.Add(shift).In(t.Location()).Format(TimestampLayout)
		if _, err := tx.ExecContext(ctx, update, shifted, p.key); err != nil {
			return err
		}
	}
	return nil
}
