package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"ambudispatch/internal/model"
)

const locationCols = `vehicle_id, latitude, longitude, speed, heading, ts, status, in_service, assigned_request_id, estimated_arrival`

const alertCols = `id, vehicle_id, request_id, assignment_id, type, ts, latitude, longitude, details, resolved, resolved_at`

// Locations

func scanLocation(rs rowScanner) (model.VehicleLocation, error) {
	var l model.VehicleLocation
	var ts, status string
	var inService int
	var reqID, eta sql.NullString
	err := rs.Scan(&l.VehicleID, &l.Latitude, &l.Longitude, &l.Speed, &l.Heading, &ts, &status, &inService, &reqID, &eta)
	if errors.Is(err, sql.ErrNoRows) {
		return l, ErrNotFound
	}
	if err != nil {
		return l, err
	}
	l.Timestamp = parseTS(ts)
	l.Status = model.VehicleStatus(status)
	l.InService = inService == 1
	l.AssignedRequestID = reqID.String
	l.EstimatedArrival = parseTSPtr(eta)
	return l, nil
}

func (s *SQL) GetLocation(ctx context.Context, vehicleID string) (model.VehicleLocation, error) {
	return scanLocation(s.db.QueryRowContext(ctx, s.q(`SELECT `+locationCols+` FROM vehicle_locations WHERE vehicle_id = ?`), vehicleID))
}

func (s *SQL) ListLocations(ctx context.Context) ([]model.VehicleLocation, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT l.vehicle_id, l.latitude, l.longitude, l.speed, l.heading, l.ts, l.status,
		l.in_service, l.assigned_request_id, l.estimated_arrival
		FROM vehicle_locations l JOIN vehicles v ON v.id = l.vehicle_id ORDER BY v.seq, v.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.VehicleLocation{}
	for rows.Next() {
		l, err := scanLocation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *SQL) UpsertLocation(ctx context.Context, loc model.VehicleLocation) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := s.getVehicle(ctx, tx, loc.VehicleID, false); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, s.q(`INSERT INTO vehicle_locations (`+locationCols+`) VALUES (?,?,?,?,?,?,?,?,?,?)
			ON CONFLICT (vehicle_id) DO UPDATE SET latitude = excluded.latitude, longitude = excluded.longitude,
			speed = excluded.speed, heading = excluded.heading, ts = excluded.ts, status = excluded.status,
			in_service = excluded.in_service, assigned_request_id = excluded.assigned_request_id,
			estimated_arrival = excluded.estimated_arrival`),
			loc.VehicleID, loc.Latitude, loc.Longitude, loc.Speed, loc.Heading, formatTS(loc.Timestamp), string(loc.Status),
			boolInt(loc.InService), nullIfEmpty(loc.AssignedRequestID), formatTSPtr(loc.EstimatedArrival))
		return err
	})
}

// Alerts

func scanAlert(rs rowScanner) (model.LocationAlert, error) {
	var a model.LocationAlert
	var typ, ts string
	var resolved int
	var resolvedAt sql.NullString
	err := rs.Scan(&a.ID, &a.VehicleID, &a.RequestID, &a.AssignmentID, &typ, &ts, &a.Location.Lat, &a.Location.Lng,
		&a.Details, &resolved, &resolvedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	a.Type = model.AlertType(typ)
	a.Timestamp = parseTS(ts)
	a.Resolved = resolved == 1
	a.ResolvedAt = parseTSPtr(resolvedAt)
	return a, nil
}

func (s *SQL) openAlert(ctx context.Context, q querier, vehicleID string, typ model.AlertType) (model.LocationAlert, error) {
	return scanAlert(q.QueryRowContext(ctx, s.q(`SELECT `+alertCols+` FROM location_alerts
		WHERE vehicle_id = ? AND type = ? AND resolved = 0`), vehicleID, string(typ)))
}

func (s *SQL) CreateAlertIfAbsent(ctx context.Context, a model.LocationAlert) (model.LocationAlert, bool, error) {
	created := false
	var out model.LocationAlert
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		ex, err := s.openAlert(ctx, tx, a.VehicleID, a.Type)
		if err == nil {
			out = ex
			return nil
		}
		if !errors.Is(err, ErrNotFound) {
			return err
		}
		if a.ID == "" {
			a.ID = uuid.New().String()
		}
		if a.Timestamp.IsZero() {
			a.Timestamp = s.now()
		}
		a.Resolved = false
		a.ResolvedAt = nil
		if _, err := tx.ExecContext(ctx, s.q(`INSERT INTO location_alerts (`+alertCols+`) VALUES (?,?,?,?,?,?,?,?,?,?,?)`),
			a.ID, a.VehicleID, a.RequestID, a.AssignmentID, string(a.Type), formatTS(a.Timestamp), a.Location.Lat,
			a.Location.Lng, a.Details, 0, nil); err != nil {
			return err
		}
		out = a
		created = true
		return nil
	})
	if err != nil {
		// a concurrent writer may have won the unique index race
		if ex, e2 := s.openAlert(ctx, s.db, a.VehicleID, a.Type); e2 == nil {
			return ex, false, nil
		}
		return model.LocationAlert{}, false, err
	}
	return out, created, nil
}

func (s *SQL) GetAlert(ctx context.Context, id string) (model.LocationAlert, error) {
	return scanAlert(s.db.QueryRowContext(ctx, s.q(`SELECT `+alertCols+` FROM location_alerts WHERE id = ?`), id))
}

func (s *SQL) ListAlerts(ctx context.Context, f AlertFilter) ([]model.LocationAlert, error) {
	query := `SELECT ` + alertCols + ` FROM location_alerts WHERE 1=1`
	args := []any{}
	if f.Resolved != nil {
		query += ` AND resolved = ?`
		args = append(args, boolInt(*f.Resolved))
	}
	if f.VehicleID != "" {
		query += ` AND vehicle_id = ?`
		args = append(args, f.VehicleID)
	}
	query += ` ORDER BY ts, id`
	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.LocationAlert{}
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQL) ResolveAlert(ctx context.Context, id string, at time.Time) (model.LocationAlert, error) {
	var out model.LocationAlert
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		a, err := scanAlert(tx.QueryRowContext(ctx, s.q(`SELECT `+alertCols+` FROM location_alerts WHERE id = ?`+s.forUpdate()), id))
		if err != nil {
			return err
		}
		if !a.Resolved {
			a.Resolved = true
			ts := at.UTC()
			a.ResolvedAt = &ts
			if _, err := tx.ExecContext(ctx, s.q(`UPDATE location_alerts SET resolved = 1, resolved_at = ? WHERE id = ?`), formatTS(ts), id); err != nil {
				return err
			}
		}
		out = a
		return nil
	})
	return out, err
}

// Occupancy

func (s *SQL) RecordOccupancy(ctx context.Context, rec model.OccupancyRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO occupancy_records (id, assignment_id, vehicle_id, request_id, seats_used,
		seats_total, rate, recorded_at) VALUES (?,?,?,?,?,?,?,?)`),
		rec.ID, rec.AssignmentID, rec.VehicleID, rec.RequestID, rec.SeatsUsed, rec.SeatsTotal, rec.Rate, formatTS(rec.RecordedAt))
	return err
}

func (s *SQL) ListOccupancy(ctx context.Context, limit int) ([]model.OccupancyRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT id, assignment_id, vehicle_id, request_id, seats_used, seats_total, rate, recorded_at
		FROM occupancy_records ORDER BY recorded_at DESC, id LIMIT ?`), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.OccupancyRecord{}
	for rows.Next() {
		var r model.OccupancyRecord
		var ts string
		if err := rows.Scan(&r.ID, &r.AssignmentID, &r.VehicleID, &r.RequestID, &r.SeatsUsed, &r.SeatsTotal, &r.Rate, &ts); err != nil {
			return nil, err
		}
		r.RecordedAt = parseTS(ts)
		out = append(out, r)
	}
	return out, rows.Err()
}
