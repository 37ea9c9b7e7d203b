// Package postgres persists trip aggregates in PostgreSQL, with a Redis GEO
// index over trip origins accelerating proximity queries. PostgreSQL is the
// source of truth: the index is rebuilt from it at startup, and proximity
// queries fall back to a table scan when Redis is unavailable or the index
// is empty.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/uniride/carpool/internal/domain/trip"
	"github.com/uniride/carpool/internal/service/geomath"
	"github.com/uniride/carpool/pkg/logger"
)

// geoKey is the Redis GEO set holding origins of active trips
const geoKey = "trips:origins"

// TripRepo implements trip.Repository over PostgreSQL and Redis
type TripRepo struct {
	db     *sql.DB
	redis  *redis.Client
	logger *logger.Logger
}

// NewTripRepo creates the trip repository
func NewTripRepo(db *sql.DB, redisClient *redis.Client, log *logger.Logger) *TripRepo {
	return &TripRepo{db: db, redis: redisClient, logger: log}
}

const tripColumns = `
	id, driver_id, vehicle_id,
	origin_name, origin_lat, origin_lng,
	destination_name, destination_lat, destination_lng,
	departure_time, return_time, round_trip,
	max_seats, women_only, price, route_km,
	riders, state, version, created_at, updated_at, completed_at`

// Create inserts a new trip with version 1 and indexes its origin
func (r *TripRepo) Create(ctx context.Context, t *trip.Trip) error {
	riders, err := json.Marshal(t.Riders)
	if err != nil {
		return fmt.Errorf("encoding riders: %w", err)
	}
	t.Version = 1

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO trips (
			id, driver_id, vehicle_id,
			origin_name, origin_lat, origin_lng,
			destination_name, destination_lat, destination_lng,
			departure_time, return_time, round_trip,
			max_seats, women_only, price, route_km,
			riders, state, version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
	`,
		t.ID, t.DriverID, t.VehicleID,
		t.Origin.DisplayName, t.Origin.Location.Lat, t.Origin.Location.Lng,
		t.Destination.DisplayName, t.Destination.Location.Lat, t.Destination.Location.Lng,
		t.DepartureTime, nullTime(t.ReturnTime), t.RoundTrip,
		t.MaxSeats, t.WomenOnly, t.Price, t.RouteKm,
		riders, string(t.State), t.Version, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting trip: %w", err)
	}

	r.indexOrigin(ctx, t)
	return nil
}

// FindByID loads one trip
func (r *TripRepo) FindByID(ctx context.Context, id uuid.UUID) (*trip.Trip, error) {
	row := r.db.QueryRowContext(ctx, `SELECT`+tripColumns+` FROM trips WHERE id = $1`, id)
	t, err := scanTrip(row)
	if err == sql.ErrNoRows {
		return nil, trip.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading trip: %w", err)
	}
	return t, nil
}

// FindActiveOrInProgressByParticipant returns the user's open trips, as
// driver or as a rider with a pending or confirmed request
func (r *TripRepo) FindActiveOrInProgressByParticipant(ctx context.Context, userID uuid.UUID) ([]*trip.Trip, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT`+tripColumns+`
		FROM trips
		WHERE state IN ('active', 'in_progress')
		  AND (
			driver_id = $1
			OR EXISTS (
				SELECT 1 FROM jsonb_array_elements(riders) AS r
				WHERE r->>'rider_id' = $1::text
				  AND r->>'status' IN ('pending', 'confirmed')
			)
		  )
		ORDER BY departure_time
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("loading participant trips: %w", err)
	}
	defer rows.Close()
	return scanTrips(rows)
}

// FindByState returns trips in the given state departing before the cutoff,
// ordered by departure time
func (r *TripRepo) FindByState(ctx context.Context, state trip.State, departedBefore time.Time) ([]*trip.Trip, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT`+tripColumns+`
		FROM trips
		WHERE state = $1 AND departure_time < $2
		ORDER BY departure_time
	`, string(state), departedBefore)
	if err != nil {
		return nil, fmt.Errorf("loading trips by state: %w", err)
	}
	defer rows.Close()
	return scanTrips(rows)
}

// FindNear returns trips whose origin lies within radiusMeters of the point,
// closest first. The Redis GEO index answers the proximity part; attribute
// filters run against PostgreSQL over the candidate ids.
func (r *TripRepo) FindNear(ctx context.Context, point trip.GeoPoint, radiusMeters float64, filters trip.NearFilters) ([]trip.NearResult, error) {
	locs, err := r.redis.GeoSearchLocation(ctx, geoKey, &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Longitude:  point.Lng,
			Latitude:   point.Lat,
			Radius:     radiusMeters,
			RadiusUnit: "m",
			Sort:       "ASC",
		},
		WithDist: true,
	}).Result()
	if err != nil {
		r.logger.Warn("Geo index unavailable, scanning trips table",
			logger.Err(err))
		return r.findNearScan(ctx, point, radiusMeters, filters)
	}
	if len(locs) == 0 {
		// Distinguish "nothing nearby" from an index that lost its members,
		// e.g. Redis restarted empty. Only the latter warrants a scan.
		n, err := r.redis.ZCard(ctx, geoKey).Result()
		if err != nil || n == 0 {
			r.logger.Warn("Geo index empty, scanning trips table", logger.Err(err))
			return r.findNearScan(ctx, point, radiusMeters, filters)
		}
		return nil, nil
	}

	ids := make([]uuid.UUID, 0, len(locs))
	distByID := make(map[uuid.UUID]float64, len(locs))
	for _, loc := range locs {
		id, err := uuid.Parse(loc.Name)
		if err != nil {
			continue
		}
		ids = append(ids, id)
		distByID[id] = loc.Dist / 1000
	}

	trips, err := r.findByIDsFiltered(ctx, ids, filters)
	if err != nil {
		return nil, err
	}

	out := make([]trip.NearResult, 0, len(trips))
	for _, t := range trips {
		out = append(out, trip.NearResult{Trip: t, DistanceKm: distByID[t.ID]})
	}
	sortNear(out)
	return out, nil
}

// findNearScan is the SQL fallback: attribute filters in the query, the
// distance cut computed in process
func (r *TripRepo) findNearScan(ctx context.Context, point trip.GeoPoint, radiusMeters float64, filters trip.NearFilters) ([]trip.NearResult, error) {
	query, args := filteredQuery(filters, nil)
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("scanning trips: %w", err)
	}
	defer rows.Close()

	trips, err := scanTrips(rows)
	if err != nil {
		return nil, err
	}

	var out []trip.NearResult
	for _, t := range trips {
		if filters.MinSeats > 0 && t.AvailableSeats() < filters.MinSeats {
			continue
		}
		d := geomath.HaversineKm(point, t.Origin.Location)
		if d*1000 > radiusMeters {
			continue
		}
		out = append(out, trip.NearResult{Trip: t, DistanceKm: d})
	}
	sortNear(out)
	return out, nil
}

func (r *TripRepo) findByIDsFiltered(ctx context.Context, ids []uuid.UUID, filters trip.NearFilters) ([]*trip.Trip, error) {
	idStrings := make([]string, len(ids))
	for i, id := range ids {
		idStrings[i] = id.String()
	}
	query, args := filteredQuery(filters, pq.Array(idStrings))
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("loading candidate trips: %w", err)
	}
	defer rows.Close()

	trips, err := scanTrips(rows)
	if err != nil {
		return nil, err
	}
	if filters.MinSeats > 0 {
		kept := trips[:0]
		for _, t := range trips {
			if t.AvailableSeats() >= filters.MinSeats {
				kept = append(kept, t)
			}
		}
		trips = kept
	}
	return trips, nil
}

// filteredQuery builds the WHERE clause shared by the indexed and fallback
// proximity paths. idFilter, when non-nil, restricts to the candidate ids.
func filteredQuery(filters trip.NearFilters, idFilter interface{}) (string, []interface{}) {
	query := `SELECT` + tripColumns + ` FROM trips WHERE 1=1`
	var args []interface{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if idFilter != nil {
		query += ` AND id = ANY(` + arg(idFilter) + `)`
	}
	if filters.State != "" {
		query += ` AND state = ` + arg(string(filters.State))
	}
	if filters.DateFrom != nil {
		query += ` AND departure_time >= ` + arg(*filters.DateFrom)
	}
	if filters.DateTo != nil {
		query += ` AND departure_time <= ` + arg(*filters.DateTo)
	}
	if filters.WomenOnly != nil {
		query += ` AND women_only = ` + arg(*filters.WomenOnly)
	}
	return query, args
}

// Save writes the trip under its loaded version. A version mismatch returns
// trip.ErrVersionConflict; callers decide whether to retry.
func (r *TripRepo) Save(ctx context.Context, t *trip.Trip) error {
	riders, err := json.Marshal(t.Riders)
	if err != nil {
		return fmt.Errorf("encoding riders: %w", err)
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE trips SET
			departure_time = $1, return_time = $2,
			max_seats = $3, women_only = $4, price = $5,
			riders = $6, state = $7,
			version = version + 1, updated_at = NOW(), completed_at = $8
		WHERE id = $9 AND version = $10
	`,
		t.DepartureTime, nullTime(t.ReturnTime),
		t.MaxSeats, t.WomenOnly, t.Price,
		riders, string(t.State),
		nullTime(t.CompletedAt),
		t.ID, t.Version,
	)
	if err != nil {
		return fmt.Errorf("updating trip: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update result: %w", err)
	}
	if affected == 0 {
		var exists bool
		if err := r.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM trips WHERE id = $1)`, t.ID).Scan(&exists); err != nil {
			return fmt.Errorf("checking trip existence: %w", err)
		}
		if !exists {
			return trip.ErrNotFound
		}
		return trip.ErrVersionConflict
	}
	t.Version++
	t.UpdatedAt = time.Now().UTC()

	r.indexOrigin(ctx, t)
	return nil
}

// Delete removes a trip and its index entry
func (r *TripRepo) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM trips WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting trip: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking delete result: %w", err)
	}
	if affected == 0 {
		return trip.ErrNotFound
	}

	if err := r.redis.ZRem(ctx, geoKey, id.String()).Err(); err != nil {
		r.logger.Warn("Failed to drop trip from geo index",
			logger.String("trip_id", id.String()), logger.Err(err))
	}
	return nil
}

// RebuildGeoIndex replaces the GEO set with the origins of every active trip
// in PostgreSQL. Run at startup so entries lost to a Redis restart or an
// absorbed GeoAdd failure are restored.
func (r *TripRepo) RebuildGeoIndex(ctx context.Context) error {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, origin_lat, origin_lng FROM trips WHERE state = 'active'`)
	if err != nil {
		return fmt.Errorf("loading active trip origins: %w", err)
	}
	defer rows.Close()

	var locs []*redis.GeoLocation
	for rows.Next() {
		var (
			id       string
			lat, lng float64
		)
		if err := rows.Scan(&id, &lat, &lng); err != nil {
			return fmt.Errorf("scanning trip origin: %w", err)
		}
		locs = append(locs, &redis.GeoLocation{Name: id, Latitude: lat, Longitude: lng})
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating trip origins: %w", err)
	}

	pipe := r.redis.TxPipeline()
	pipe.Del(ctx, geoKey)
	if len(locs) > 0 {
		pipe.GeoAdd(ctx, geoKey, locs...)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("rebuilding geo index: %w", err)
	}
	r.logger.Info("Geo index rebuilt", logger.Int("trips", len(locs)))
	return nil
}

// indexOrigin keeps the GEO set consistent with the trip's state: active
// trips are searchable, everything else is dropped. Index failures are
// logged and absorbed; the SQL fallback still answers queries.
func (r *TripRepo) indexOrigin(ctx context.Context, t *trip.Trip) {
	var err error
	if t.State == trip.StateActive {
		err = r.redis.GeoAdd(ctx, geoKey, &redis.GeoLocation{
			Name:      t.ID.String(),
			Longitude: t.Origin.Location.Lng,
			Latitude:  t.Origin.Location.Lat,
		}).Err()
	} else {
		err = r.redis.ZRem(ctx, geoKey, t.ID.String()).Err()
	}
	if err != nil {
		r.logger.Warn("Failed to sync trip geo index",
			logger.String("trip_id", t.ID.String()),
			logger.String("state", string(t.State)),
			logger.Err(err))
	}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTrip(row rowScanner) (*trip.Trip, error) {
	var (
		t           trip.Trip
		state       string
		riders      []byte
		returnTime  sql.NullTime
		completedAt sql.NullTime
	)
	err := row.Scan(
		&t.ID, &t.DriverID, &t.VehicleID,
		&t.Origin.DisplayName, &t.Origin.Location.Lat, &t.Origin.Location.Lng,
		&t.Destination.DisplayName, &t.Destination.Location.Lat, &t.Destination.Location.Lng,
		&t.DepartureTime, &returnTime, &t.RoundTrip,
		&t.MaxSeats, &t.WomenOnly, &t.Price, &t.RouteKm,
		&riders, &state, &t.Version, &t.CreatedAt, &t.UpdatedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}
	t.State = trip.State(state)
	if returnTime.Valid {
		rt := returnTime.Time
		t.ReturnTime = &rt
	}
	if completedAt.Valid {
		ca := completedAt.Time
		t.CompletedAt = &ca
	}
	if len(riders) > 0 {
		if err := json.Unmarshal(riders, &t.Riders); err != nil {
			return nil, fmt.Errorf("decoding riders: %w", err)
		}
	}
	return &t, nil
}

func scanTrips(rows *sql.Rows) ([]*trip.Trip, error) {
	var out []*trip.Trip
	for rows.Next() {
		t, err := scanTrip(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning trip row: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating trip rows: %w", err)
	}
	return out, nil
}

func sortNear(results []trip.NearResult) {
	sort.Slice(results, func(i, j int) bool {
		return results[i].DistanceKm < results[j].DistanceKm
	})
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
