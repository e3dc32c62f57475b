package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/iliyamo/studyhall-marketplace/internal/model"
	"github.com/shopspring/decimal"
)

// AnalyticsRepo runs the aggregate queries behind merchant and admin
// dashboards.  Date ranges are inclusive calendar days.
type AnalyticsRepo struct{ db *sql.DB }

func NewAnalyticsRepo(db *sql.DB) *AnalyticsRepo { return &AnalyticsRepo{db: db} }

// DailyRevenue is the successful payment total of one day.
type DailyRevenue struct {
	Date         string          `json:"date"`
	Amount       decimal.Decimal `json:"amount"`
	Transactions int             `json:"transactions"`
}

// HallOccupancy compares booked seat-days with capacity over a range.
type HallOccupancy struct {
	StudyHallID    uint64  `json:"study_hall_id"`
	Name           string  `json:"name"`
	ActiveSeats    int     `json:"active_seats"`
	BookedSeatDays int     `json:"booked_seat_days"`
	Rate           float64 `json:"occupancy_rate"`
}

// RevenueByDay sums SUCCESS transactions on ownerID's halls per day.  An
// ownerID of 0 covers the whole platform.
func (r *AnalyticsRepo) RevenueByDay(ctx context.Context, ownerID uint64, from, to time.Time) ([]DailyRevenue, error) {
	q := `SELECT DATE_FORMAT(t.created_at, '%Y-%m-%d') AS d, COALESCE(SUM(t.amount), 0), COUNT(*)
	      FROM transactions t
	      JOIN bookings b    ON b.id = t.booking_id
	      JOIN study_halls h ON h.id = b.study_hall_id
	      WHERE t.status = ? AND t.created_at >= ? AND t.created_at < ? AND (? = 0 OR h.owner_id = ?)
	      GROUP BY d ORDER BY d`
	rows, err := r.db.QueryContext(ctx, q, model.TxnSuccess, from, to.AddDate(0, 0, 1), ownerID, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]DailyRevenue, 0)
	for rows.Next() {
		var d DailyRevenue
		if err := rows.Scan(&d.Date, &d.Amount, &d.Transactions); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// BookingCounts returns the number of bookings per status created in the
// range.  An ownerID of 0 covers the whole platform.
func (r *AnalyticsRepo) BookingCounts(ctx context.Context, ownerID uint64, from, to time.Time) (map[string]int, error) {
	q := `SELECT b.status, COUNT(*)
	      FROM bookings b JOIN study_halls h ON h.id = b.study_hall_id
	      WHERE b.created_at >= ? AND b.created_at < ? AND (? = 0 OR h.owner_id = ?)
	      GROUP BY b.status`
	rows, err := r.db.QueryContext(ctx, q, from, to.AddDate(0, 0, 1), ownerID, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[status] = n
	}
	return out, rows.Err()
}

// Occupancy reports, per hall of ownerID, confirmed or completed seat-days
// inside [from, to] against active seats times days in the range.
func (r *AnalyticsRepo) Occupancy(ctx context.Context, ownerID uint64, from, to time.Time) ([]HallOccupancy, error) {
	q := `SELECT h.id, h.name,
	             (SELECT COUNT(*) FROM seats s WHERE s.study_hall_id = h.id AND s.is_active = 1),
	             COALESCE((SELECT SUM(DATEDIFF(LEAST(b.end_date, ?), GREATEST(b.start_date, ?)) + 1)
	                       FROM bookings b
	                       WHERE b.study_hall_id = h.id AND b.status IN (?, ?)
	                         AND b.start_date <= ? AND b.end_date >= ?), 0)
	      FROM study_halls h
	      WHERE h.owner_id = ?
	      ORDER BY h.name`
	rows, err := r.db.QueryContext(ctx, q, to, from, model.BookingConfirmed, model.BookingCompleted, to, from, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	days := int(to.Sub(from).Hours()/24) + 1
	out := make([]HallOccupancy, 0)
	for rows.Next() {
		var o HallOccupancy
		if err := rows.Scan(&o.StudyHallID, &o.Name, &o.ActiveSeats, &o.BookedSeatDays); err != nil {
			return nil, err
		}
		o.Rate = OccupancyRate(o.BookedSeatDays, o.ActiveSeats, days)
		out = append(out, o)
	}
	return out, rows.Err()
}

// OccupancyRate is booked / (seats*days) rounded to four places, 0 when
// there is no capacity.
func OccupancyRate(booked, seats, days int) float64 {
	capacity := seats * days
	if capacity <= 0 {
		return 0
	}
	rate, _ := decimal.NewFromInt(int64(booked)).Div(decimal.NewFromInt(int64(capacity))).Round(4).Float64()
	return rate
}

// PlatformTotals are the admin dashboard headline numbers.
type PlatformTotals struct {
	HallsByStatus    map[string]int  `json:"halls_by_status"`
	BookingsByStatus map[string]int  `json:"bookings_by_status"`
	Revenue          decimal.Decimal `json:"revenue"`
	OfflineRevenue   decimal.Decimal `json:"offline_revenue"`
}

// Totals computes all-time platform figures.
func (r *AnalyticsRepo) Totals(ctx context.Context) (PlatformTotals, error) {
	t := PlatformTotals{HallsByStatus: map[string]int{}, BookingsByStatus: map[string]int{}}
	if err := r.countInto(ctx, `SELECT status, COUNT(*) FROM study_halls GROUP BY status`, t.HallsByStatus); err != nil {
		return t, err
	}
	if err := r.countInto(ctx, `SELECT status, COUNT(*) FROM bookings GROUP BY status`, t.BookingsByStatus); err != nil {
		return t, err
	}
	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(CASE WHEN method <> ? THEN amount END), 0),
		        COALESCE(SUM(CASE WHEN method = ? THEN amount END), 0)
		 FROM transactions WHERE status = ?`,
		model.MethodOffline, model.MethodOffline, model.TxnSuccess).Scan(&t.Revenue, &t.OfflineRevenue)
	return t, err
}

func (r *AnalyticsRepo) countInto(ctx context.Context, q string, dst map[string]int) error {
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var k string
		var n int
		if err := rows.Scan(&k, &n); err != nil {
			return err
		}
		dst[k] = n
	}
	return rows.Err()
}
