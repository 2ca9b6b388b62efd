package travel

import (
	"context"
	"fmt"
	"strings"

	"github.com/dshills/langgraph-travel/graph/tool"
)

// bookable describes a table of reservable items with a booked flag.
type bookable struct {
	table string
	noun  string // "Hotel", "Car rental", "Excursion"
	idArg string
}

var (
	hotels = bookable{table: "hotels", noun: "Hotel", idArg: "hotel_id"}
	cars   = bookable{table: "car_rentals", noun: "Car rental", idArg: "rental_id"}
	trips  = bookable{table: "trip_recommendations", noun: "Excursion", idArg: "recommendation_id"}
)

func (b bookable) idSchema() map[string]interface{} {
	return tool.Integer(fmt.Sprintf("The ID of the %s", strings.ToLower(b.noun)))
}

func (b bookable) result(id int64, affected int64, verb string) map[string]interface{} {
	if affected == 0 {
		return text(fmt.Sprintf("No %s found with ID %d.", strings.ToLower(b.noun), id))
	}
	return text(fmt.Sprintf("%s %d successfully %s.", b.noun, id, verb))
}

// update runs an UPDATE ... WHERE id = ? and reports the outcome in the
// message style the assistant relays to the user.
func (b bookable) update(ctx context.Context, db *DB, in map[string]interface{}, verb string, cols []string, vals []interface{}) (map[string]interface{}, error) {
	id, err := intArg(in, b.idArg)
	if err != nil {
		return nil, err
	}

	sets := make([]string, len(cols))
	for i, col := range cols {
		sets[i] = col + " = ?"
	}
	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = ?", b.table, strings.Join(sets, ", "))
	res, err := db.db.ExecContext(ctx, query, append(vals, id)...)
	if err != nil {
		return nil, fmt.Errorf("failed to update %s: %w", b.table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	return b.result(id, n, verb), nil
}

func (b bookable) setBooked(db *DB, name, description string, booked bool) tool.Tool {
	verb, flag := "cancelled", 0
	if booked {
		verb, flag = "booked", 1
	}
	return tool.New(name, description,
		tool.Object(map[string]interface{}{b.idArg: b.idSchema()}, b.idArg),
		func(ctx context.Context, in map[string]interface{}) (map[string]interface{}, error) {
			return b.update(ctx, db, in, verb, []string{"booked"}, []interface{}{flag})
		})
}

// updateDates builds an update tool over two optional date columns. At least
// one must be given.
func (b bookable) updateDates(db *DB, name, description, fromCol, toCol string) tool.Tool {
	return tool.New(name, description,
		tool.Object(map[string]interface{}{
			b.idArg: b.idSchema(),
			fromCol: tool.String("The new " + strings.ReplaceAll(fromCol, "_", " ")),
			toCol:   tool.String("The new " + strings.ReplaceAll(toCol, "_", " ")),
		}, b.idArg),
		func(ctx context.Context, in map[string]interface{}) (map[string]interface{}, error) {
			var cols []string
			var vals []interface{}
			for _, col := range []string{fromCol, toCol} {
				if v := stringArg(in, col); v != "" {
					cols = append(cols, col)
					vals = append(vals, v)
				}
			}
			if len(cols) == 0 {
				return nil, fmt.Errorf("provide %s or %s", fromCol, toCol)
			}
			return b.update(ctx, db, in, "updated", cols, vals)
		})
}

func (b bookable) search(ctx context.Context, db *DB, f filter) (map[string]interface{}, error) {
	rows, err := db.queryRows(ctx, "SELECT * FROM "+b.table+f.where(), f.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search %s: %w", b.table, err)
	}
	return listContent(rows)
}

// searchHotels and searchCarRentals filter on location and name only. Dates
// and price tier are accepted but ignored.
func searchHotels(db *DB) tool.Tool {
	return tool.New("search_hotels",
		"Search for hotels based on location, name, price tier, check-in date, and check-out date.",
		tool.Object(map[string]interface{}{
			"location":      tool.String("The location of the hotel"),
			"name":          tool.String("The name of the hotel"),
			"price_tier":    tool.String("The price tier of the hotel (Midscale, Upper Midscale, Upscale, Luxury)"),
			"checkin_date":  tool.String("The check-in date of the hotel"),
			"checkout_date": tool.String("The check-out date of the hotel"),
		}),
		func(ctx context.Context, in map[string]interface{}) (map[string]interface{}, error) {
			var f filter
			f.like("location", stringArg(in, "location"))
			f.like("name", stringArg(in, "name"))
			return hotels.search(ctx, db, f)
		})
}

func searchCarRentals(db *DB) tool.Tool {
	return tool.New("search_car_rentals",
		"Search for car rentals based on location, name, price tier, start date, and end date.",
		tool.Object(map[string]interface{}{
			"location":   tool.String("The location of the car rental"),
			"name":       tool.String("The name of the car rental company"),
			"price_tier": tool.String("The price tier of the car rental"),
			"start_date": tool.String("The start date of the car rental"),
			"end_date":   tool.String("The end date of the car rental"),
		}),
		func(ctx context.Context, in map[string]interface{}) (map[string]interface{}, error) {
			var f filter
			f.like("location", stringArg(in, "location"))
			f.like("name", stringArg(in, "name"))
			return cars.search(ctx, db, f)
		})
}

func searchTripRecommendations(db *DB) tool.Tool {
	return tool.New("search_trip_recommendations",
		"Search for trip recommendations based on location, name, and keywords.",
		tool.Object(map[string]interface{}{
			"location": tool.String("The location of the trip recommendation"),
			"name":     tool.String("The name of the trip recommendation"),
			"keywords": tool.String("Comma-separated keywords associated with the trip recommendation"),
		}),
		func(ctx context.Context, in map[string]interface{}) (map[string]interface{}, error) {
			var f filter
			f.like("location", stringArg(in, "location"))
			f.like("name", stringArg(in, "name"))
			f.anyLike("keywords", stringArg(in, "keywords"))
			return trips.search(ctx, db, f)
		})
}

func updateExcursion(db *DB) tool.Tool {
	return tool.New("update_excursion",
		"Update an excursion's details by its ID.",
		tool.Object(map[string]interface{}{
			trips.idArg: trips.idSchema(),
			"details":   tool.String("The new details of the excursion"),
		}, trips.idArg, "details"),
		func(ctx context.Context, in map[string]interface{}) (map[string]interface{}, error) {
			details := stringArg(in, "details")
			if details == "" {
				return nil, fmt.Errorf("details is required")
			}
			return trips.update(ctx, db, in, "updated", []string{"details"}, []interface{}{details})
		})
}

func hotelTools(db *DB) (search tool.Tool, sensitive []tool.Tool) {
	return searchHotels(db), []tool.Tool{
		hotels.setBooked(db, "book_hotel", "Book a hotel by its ID.", true),
		hotels.updateDates(db, "update_hotel", "Update a hotel's check-in and check-out dates by its ID.", "checkin_date", "checkout_date"),
		hotels.setBooked(db, "cancel_hotel", "Cancel a hotel booking by its ID.", false),
	}
}

func carTools(db *DB) (search tool.Tool, sensitive []tool.Tool) {
	return searchCarRentals(db), []tool.Tool{
		cars.setBooked(db, "book_car_rental", "Book a car rental by its ID.", true),
		cars.updateDates(db, "update_car_rental", "Update a car rental's start and end dates by its ID.", "start_date", "end_date"),
		cars.setBooked(db, "cancel_car_rental", "Cancel a car rental by its ID.", false),
	}
}

func excursionTools(db *DB) (search tool.Tool, sensitive []tool.Tool) {
	return searchTripRecommendations(db), []tool.Tool{
		trips.setBooked(db, "book_excursion", "Book an excursion by its recommendation ID.", true),
		updateExcursion(db),
		trips.setBooked(db, "cancel_excursion", "Cancel an excursion by its ID.", false),
	}
}
