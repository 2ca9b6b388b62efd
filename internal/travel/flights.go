package travel

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dshills/langgraph-travel/graph/tool"
)

// MinRescheduleNotice is how far in the future a flight must depart for a
// ticket to be moved onto it.
const MinRescheduleNotice = 3 * time.Hour

const userFlightsQuery = `
SELECT
    t.ticket_no, t.book_ref,
    f.flight_id, f.flight_no, f.departure_airport, f.arrival_airport,
    f.scheduled_departure, f.scheduled_arrival,
    bp.seat_no, tf.fare_conditions
FROM tickets t
JOIN ticket_flights tf ON t.ticket_no = tf.ticket_no
JOIN flights f ON tf.flight_id = f.flight_id
JOIN boarding_passes bp ON bp.ticket_no = t.ticket_no AND bp.flight_id = f.flight_id
WHERE t.passenger_id = ?`

// UserFlights returns every ticket of passengerID with its flight, seat and
// fare conditions.
func (d *DB) UserFlights(ctx context.Context, passengerID string) ([]map[string]interface{}, error) {
	rows, err := d.queryRows(ctx, userFlightsQuery, passengerID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch flights: %w", err)
	}
	return rows, nil
}

func fetchUserFlightInformation(db *DB) tool.Tool {
	return tool.New("fetch_user_flight_information",
		"Fetch all tickets for the user along with corresponding flight information and seat assignments.",
		tool.Object(map[string]interface{}{}),
		func(ctx context.Context, _ map[string]interface{}) (map[string]interface{}, error) {
			pid, err := passengerID(ctx)
			if err != nil {
				return nil, err
			}
			rows, err := db.UserFlights(ctx, pid)
			if err != nil {
				return nil, err
			}
			return listContent(rows)
		})
}

func searchFlights(db *DB) tool.Tool {
	return tool.New("search_flights",
		"Search for flights based on departure airport, arrival airport, and departure time range.",
		tool.Object(map[string]interface{}{
			"departure_airport": tool.String("Three-letter code of the departure airport"),
			"arrival_airport":   tool.String("Three-letter code of the arrival airport"),
			"start_time":        tool.String("Earliest scheduled departure, ISO 8601"),
			"end_time":          tool.String("Latest scheduled departure, ISO 8601"),
			"limit":             tool.Integer("Maximum number of flights to return (default 20)"),
		}),
		func(ctx context.Context, in map[string]interface{}) (map[string]interface{}, error) {
			var f filter
			if v := stringArg(in, "departure_airport"); v != "" {
				f.add("departure_airport = ?", v)
			}
			if v := stringArg(in, "arrival_airport"); v != "" {
				f.add("arrival_airport = ?", v)
			}
			for _, bound := range []struct{ key, op string }{{"start_time", ">="}, {"end_time", "<="}} {
				v := stringArg(in, bound.key)
				if v == "" {
					continue
				}
				t, err := ParseTimestamp(v)
				if err != nil {
					return nil, fmt.Errorf("%s: %w", bound.key, err)
				}
				f.add("scheduled_departure "+bound.op+" ?", t.Format(TimestampLayout))
			}

			limit := int64(20)
			if _, ok := in["limit"]; ok {
				n, err := intArg(in, "limit")
				if err != nil {
					return nil, err
				}
				if n > 0 {
					limit = n
				}
			}

			rows, err := db.queryRows(ctx, "SELECT * FROM flights"+f.where()+" LIMIT ?", append(f.args, limit)...)
			if err != nil {
				return nil, fmt.Errorf("failed to search flights: %w", err)
			}
			return listContent(rows)
		})
}

func updateTicketToNewFlight(db *DB) tool.Tool {
	return tool.New("update_ticket_to_new_flight",
		"Update the user's ticket to a new valid flight.",
		tool.Object(map[string]interface{}{
			"ticket_no":     tool.String("The ticket number to update"),
			"new_flight_id": tool.Integer("The ID of the flight to move the ticket to"),
		}, "ticket_no", "new_flight_id"),
		func(ctx context.Context, in map[string]interface{}) (map[string]interface{}, error) {
			pid, err := passengerID(ctx)
			if err != nil {
				return nil, err
			}
			ticketNo := stringArg(in, "ticket_no")
			flightID, err := intArg(in, "new_flight_id")
			if err != nil {
				return nil, err
			}

			var departure string
			err = db.db.QueryRowContext(ctx,
				"SELECT scheduled_departure FROM flights WHERE flight_id = ?", flightID).Scan(&departure)
			if errors.Is(err, sql.ErrNoRows) {
				return text("Invalid new flight ID provided."), nil
			}
			if err != nil {
				return nil, err
			}
			at, err := ParseTimestamp(departure)
			if err != nil {
				return nil, err
			}
			if at.Sub(now()) < MinRescheduleNotice {
				return text(fmt.Sprintf("Not permitted to reschedule to a flight that is less than 3 hours from the current time. Selected flight is at %s.", departure)), nil
			}

			msg, ok, err := checkTicket(ctx, db, ticketNo, pid)
			if err != nil {
				return nil, err
			}
			if !ok {
				return text(msg), nil
			}

			if _, err := db.db.ExecContext(ctx,
				"UPDATE ticket_flights SET flight_id = ? WHERE ticket_no = ?", flightID, ticketNo); err != nil {
				return nil, fmt.Errorf("failed to update ticket: %w", err)
			}
			return text("Ticket successfully updated to new flight."), nil
		})
}

func cancelTicket(db *DB) tool.Tool {
	return tool.New("cancel_ticket",
		"Cancel the user's ticket and remove it from the database.",
		tool.Object(map[string]interface{}{
			"ticket_no": tool.String("The ticket number to cancel"),
		}, "ticket_no"),
		func(ctx context.Context, in map[string]interface{}) (map[string]interface{}, error) {
			pid, err := passengerID(ctx)
			if err != nil {
				return nil, err
			}
			ticketNo := stringArg(in, "ticket_no")

			msg, ok, err := checkTicket(ctx, db, ticketNo, pid)
			if err != nil {
				return nil, err
			}
			if !ok {
				return text(msg), nil
			}

			if _, err := db.db.ExecContext(ctx, "DELETE FROM ticket_flights WHERE ticket_no = ?", ticketNo); err != nil {
				return nil, fmt.Errorf("failed to cancel ticket: %w", err)
			}
			return text("Ticket successfully cancelled."), nil
		})
}

// checkTicket verifies that ticketNo has a flight and belongs to pid. When
// it does not, the returned message explains why.
func checkTicket(ctx context.Context, db *DB, ticketNo, pid string) (string, bool, error) {
	var flightID int64
	err := db.db.QueryRowContext(ctx,
		"SELECT flight_id FROM ticket_flights WHERE ticket_no = ?", ticketNo).Scan(&flightID)
	if errors.Is(err, sql.ErrNoRows) {
		return "No existing ticket found for the given ticket number.", false, nil
	}
	if err != nil {
		return "", false, err
	}

	var owner string
	err = db.db.QueryRowContext(ctx,
		"SELECT ticket_no FROM tickets WHERE ticket_no = ? AND passenger_id = ?", ticketNo, pid).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Sprintf("Current signed-in passenger with ID %s not the owner of ticket %s", pid, ticketNo), false, nil
	}
	if err != nil {
		return "", false, err
	}
	return "", true, nil
}
