package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"ambudispatch/internal/model"
)

const requestCols = `id, patient_name, patient_id, origin, destination, scheduled_time, return_time,
	transport_type, service_type, status, assigned_vehicle_id, required_equipment, observations,
	special_attention, architectural_barriers, created_at, updated_at`

const vehicleCols = `id, plate, zone, type, status, equipment, cap_stretcher, cap_wheelchair, cap_walking, created_at, updated_at`

const assignmentCols = `id, request_id, vehicle_id, assigned_at, estimated_arrival, occ_stretcher, occ_wheelchair,
	occ_walking, status, automatic, incidents`

const activeStatuses = `('scheduled','inProgress')`

func (s *SQL) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// forUpdate locks selected rows on PostgreSQL. SQLite runs on a single connection.
func (s *SQL) forUpdate() string {
	if s.driver == "postgres" {
		return " FOR UPDATE"
	}
	return ""
}

// Requests

func scanRequest(rs rowScanner) (model.TransportRequest, error) {
	var r model.TransportRequest
	var sched, equip, created, updated, tt, st, status string
	var ret, vid sql.NullString
	err := rs.Scan(&r.ID, &r.PatientName, &r.PatientID, &r.Origin, &r.Destination, &sched, &ret,
		&tt, &st, &status, &vid, &equip, &r.Observations, &r.SpecialAttention, &r.ArchitecturalBarriers, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return r, ErrNotFound
	}
	if err != nil {
		return r, err
	}
	r.ScheduledTime = parseTS(sched)
	r.ReturnTime = parseTSPtr(ret)
	r.TransportType = model.TransportType(tt)
	r.ServiceType = model.ServiceType(st)
	r.Status = model.RequestStatus(status)
	r.AssignedVehicleID = vid.String
	r.RequiredEquipment = decodeStrings(equip)
	r.CreatedAt = parseTS(created)
	r.UpdatedAt = parseTS(updated)
	return r, nil
}

func (s *SQL) getRequest(ctx context.Context, q querier, id string, lock bool) (model.TransportRequest, error) {
	query := `SELECT ` + requestCols + ` FROM transport_requests WHERE id = ?`
	if lock {
		query += s.forUpdate()
	}
	return scanRequest(q.QueryRowContext(ctx, s.q(query), id))
}

func (s *SQL) writeRequest(ctx context.Context, q querier, r model.TransportRequest) error {
	_, err := q.ExecContext(ctx, s.q(`UPDATE transport_requests SET patient_name=?, patient_id=?, origin=?, destination=?,
		scheduled_time=?, return_time=?, transport_type=?, service_type=?, status=?, assigned_vehicle_id=?,
		required_equipment=?, observations=?, special_attention=?, architectural_barriers=?, updated_at=? WHERE id=?`),
		r.PatientName, r.PatientID, r.Origin, r.Destination, formatTS(r.ScheduledTime), formatTSPtr(r.ReturnTime),
		string(r.TransportType), string(r.ServiceType), string(r.Status), nullIfEmpty(r.AssignedVehicleID),
		encodeJSON(nonNilStrings(r.RequiredEquipment)), r.Observations, r.SpecialAttention, r.ArchitecturalBarriers,
		formatTS(r.UpdatedAt), r.ID)
	return err
}

func (s *SQL) CreateRequest(ctx context.Context, r model.TransportRequest) (model.TransportRequest, error) {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.Status == "" {
		r.Status = model.RequestPending
	}
	now := s.now()
	r.CreatedAt, r.UpdatedAt = now, now
	r.RequiredEquipment = nonNilStrings(r.RequiredEquipment)
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO transport_requests (`+requestCols+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`),
		r.ID, r.PatientName, r.PatientID, r.Origin, r.Destination, formatTS(r.ScheduledTime), formatTSPtr(r.ReturnTime),
		string(r.TransportType), string(r.ServiceType), string(r.Status), nullIfEmpty(r.AssignedVehicleID),
		encodeJSON(r.RequiredEquipment), r.Observations, r.SpecialAttention, r.ArchitecturalBarriers,
		formatTS(r.CreatedAt), formatTS(r.UpdatedAt))
	if err != nil {
		return model.TransportRequest{}, err
	}
	return s.GetRequest(ctx, r.ID)
}

func (s *SQL) GetRequest(ctx context.Context, id string) (model.TransportRequest, error) {
	return s.getRequest(ctx, s.db, id, false)
}

func (s *SQL) ListRequests(ctx context.Context, status model.RequestStatus) ([]model.TransportRequest, error) {
	query := `SELECT ` + requestCols + ` FROM transport_requests`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY scheduled_time, id`
	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.TransportRequest{}
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQL) UpdateRequest(ctx context.Context, id string, patch model.TransportRequestPatch) (model.TransportRequest, error) {
	var out model.TransportRequest
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		r, err := s.getRequest(ctx, tx, id, true)
		if err != nil {
			return err
		}
		patch.Apply(&r)
		r.UpdatedAt = s.now()
		if err := s.writeRequest(ctx, tx, r); err != nil {
			return err
		}
		out = r
		return nil
	})
	return out, err
}

func (s *SQL) DeleteRequest(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := s.getRequest(ctx, tx, id, true); err != nil {
			return err
		}
		var n int
		if err := tx.QueryRowContext(ctx, s.q(`SELECT COUNT(*) FROM assignments WHERE request_id = ? AND status <> 'cancelled'`), id).Scan(&n); err != nil {
			return err
		}
		if n > 0 {
			return ErrStaleState
		}
		_, err := tx.ExecContext(ctx, s.q(`DELETE FROM transport_requests WHERE id = ?`), id)
		return err
	})
}

// Vehicles

func scanVehicle(rs rowScanner) (model.Vehicle, error) {
	var v model.Vehicle
	var typ, status, equip, created, updated string
	err := rs.Scan(&v.ID, &v.Plate, &v.Zone, &typ, &status, &equip, &v.Capacity.Stretcher, &v.Capacity.Wheelchair,
		&v.Capacity.Walking, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return v, ErrNotFound
	}
	if err != nil {
		return v, err
	}
	v.Type = model.VehicleType(typ)
	v.Status = model.VehicleStatus(status)
	v.Equipment = decodeStrings(equip)
	v.CreatedAt = parseTS(created)
	v.UpdatedAt = parseTS(updated)
	return v, nil
}

func (s *SQL) getVehicle(ctx context.Context, q querier, id string, lock bool) (model.Vehicle, error) {
	query := `SELECT ` + vehicleCols + ` FROM vehicles WHERE id = ?`
	if lock {
		query += s.forUpdate()
	}
	return scanVehicle(q.QueryRowContext(ctx, s.q(query), id))
}

func (s *SQL) writeVehicle(ctx context.Context, q querier, v model.Vehicle) error {
	_, err := q.ExecContext(ctx, s.q(`UPDATE vehicles SET plate=?, zone=?, type=?, status=?, equipment=?,
		cap_stretcher=?, cap_wheelchair=?, cap_walking=?, updated_at=? WHERE id=?`),
		v.Plate, v.Zone, string(v.Type), string(v.Status), encodeJSON(nonNilStrings(v.Equipment)),
		v.Capacity.Stretcher, v.Capacity.Wheelchair, v.Capacity.Walking, formatTS(v.UpdatedAt), v.ID)
	return err
}

func (s *SQL) activeCount(ctx context.Context, q querier, vehicleID string) (int, error) {
	var n int
	err := q.QueryRowContext(ctx, s.q(`SELECT COUNT(*) FROM assignments WHERE vehicle_id = ? AND status IN `+activeStatuses), vehicleID).Scan(&n)
	return n, err
}

func (s *SQL) CreateVehicle(ctx context.Context, v model.Vehicle) (model.Vehicle, error) {
	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	if v.Status == "" {
		v.Status = model.VehicleAvailable
	}
	now := s.now()
	v.CreatedAt, v.UpdatedAt = now, now
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO vehicles (`+vehicleCols+`, seq)
		VALUES (?,?,?,?,?,?,?,?,?,?,?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM vehicles))`),
		v.ID, v.Plate, v.Zone, string(v.Type), string(v.Status), encodeJSON(nonNilStrings(v.Equipment)),
		v.Capacity.Stretcher, v.Capacity.Wheelchair, v.Capacity.Walking, formatTS(v.CreatedAt), formatTS(v.UpdatedAt))
	if err != nil {
		return model.Vehicle{}, err
	}
	return s.GetVehicle(ctx, v.ID)
}

func (s *SQL) GetVehicle(ctx context.Context, id string) (model.Vehicle, error) {
	return s.getVehicle(ctx, s.db, id, false)
}

func (s *SQL) ListVehicles(ctx context.Context, f VehicleFilter) ([]model.Vehicle, error) {
	query := `SELECT ` + vehicleCols + ` FROM vehicles WHERE 1=1`
	args := []any{}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(f.Status))
	}
	if f.Zone != "" {
		query += ` AND zone = ?`
		args = append(args, f.Zone)
	}
	query += ` ORDER BY seq, id`
	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Vehicle{}
	for rows.Next() {
		v, err := scanVehicle(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *SQL) UpdateVehicle(ctx context.Context, id string, patch model.VehiclePatch) (model.Vehicle, error) {
	var out model.Vehicle
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		v, err := s.getVehicle(ctx, tx, id, true)
		if err != nil {
			return err
		}
		patch.Apply(&v)
		v.UpdatedAt = s.now()
		if err := s.writeVehicle(ctx, tx, v); err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

func (s *SQL) SetVehicleStatus(ctx context.Context, id string, status model.VehicleStatus) (model.Vehicle, error) {
	var out model.Vehicle
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		v, err := s.getVehicle(ctx, tx, id, true)
		if err != nil {
			return err
		}
		n, err := s.activeCount(ctx, tx, id)
		if err != nil {
			return err
		}
		if status == model.VehicleBusy || n > 0 {
			return ErrStaleState
		}
		v.Status = status
		v.UpdatedAt = s.now()
		if err := s.writeVehicle(ctx, tx, v); err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

func (s *SQL) DeleteVehicle(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := s.getVehicle(ctx, tx, id, true); err != nil {
			return err
		}
		n, err := s.activeCount(ctx, tx, id)
		if err != nil {
			return err
		}
		if n > 0 {
			return ErrStaleState
		}
		if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM vehicle_locations WHERE vehicle_id = ?`), id); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, s.q(`DELETE FROM vehicles WHERE id = ?`), id)
		return err
	})
}

// Assignments

func scanAssignment(rs rowScanner) (model.Assignment, error) {
	var a model.Assignment
	var assigned, status, incidents string
	var eta sql.NullString
	var auto int
	err := rs.Scan(&a.ID, &a.RequestID, &a.VehicleID, &assigned, &eta, &a.Occupied.Stretcher, &a.Occupied.Wheelchair,
		&a.Occupied.Walking, &status, &auto, &incidents)
	if errors.Is(err, sql.ErrNoRows) {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	a.AssignedAt = parseTS(assigned)
	a.EstimatedArrival = parseTSPtr(eta)
	a.Status = model.AssignmentStatus(status)
	a.AutomaticallyAssigned = auto == 1
	a.Incidents = []model.AssignmentIncident{}
	if incidents != "" {
		_ = jsonUnmarshalString(incidents, &a.Incidents)
	}
	return a, nil
}

func (s *SQL) activeForRequest(ctx context.Context, q querier, requestID string, lock bool) (model.Assignment, error) {
	query := `SELECT ` + assignmentCols + ` FROM assignments WHERE request_id = ? AND status IN ` + activeStatuses
	if lock {
		query += s.forUpdate()
	}
	return scanAssignment(q.QueryRowContext(ctx, s.q(query), requestID))
}

func (s *SQL) CommitAssignment(ctx context.Context, a model.Assignment, requireAvailable bool) (model.Assignment, error) {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		r, err := s.getRequest(ctx, tx, a.RequestID, true)
		if err != nil {
			return err
		}
		v, err := s.getVehicle(ctx, tx, a.VehicleID, true)
		if err != nil {
			return err
		}
		if r.Status != model.RequestPending {
			return ErrStaleState
		}
		if _, err := s.activeForRequest(ctx, tx, r.ID, false); err == nil {
			return ErrStaleState
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}
		if v.Status == model.VehicleMaintenance || (requireAvailable && v.Status != model.VehicleAvailable) {
			return ErrStaleState
		}

		now := s.now()
		if a.ID == "" {
			a.ID = uuid.New().String()
		}
		if a.AssignedAt.IsZero() {
			a.AssignedAt = now
		}
		if a.Status == "" {
			a.Status = model.AssignmentScheduled
		}
		if a.Incidents == nil {
			a.Incidents = []model.AssignmentIncident{}
		}
		if _, err := tx.ExecContext(ctx, s.q(`INSERT INTO assignments (`+assignmentCols+`) VALUES (?,?,?,?,?,?,?,?,?,?,?)`),
			a.ID, a.RequestID, a.VehicleID, formatTS(a.AssignedAt), formatTSPtr(a.EstimatedArrival),
			a.Occupied.Stretcher, a.Occupied.Wheelchair, a.Occupied.Walking, string(a.Status),
			boolInt(a.AutomaticallyAssigned), encodeJSON(a.Incidents)); err != nil {
			return err
		}

		r.Status = model.RequestAssigned
		r.AssignedVehicleID = v.ID
		r.UpdatedAt = now
		if err := s.writeRequest(ctx, tx, r); err != nil {
			return err
		}
		v.Status = model.VehicleBusy
		v.UpdatedAt = now
		return s.writeVehicle(ctx, tx, v)
	})
	if err != nil {
		return model.Assignment{}, err
	}
	return a, nil
}

func (s *SQL) GetAssignment(ctx context.Context, id string) (model.Assignment, error) {
	return scanAssignment(s.db.QueryRowContext(ctx, s.q(`SELECT `+assignmentCols+` FROM assignments WHERE id = ?`), id))
}

func (s *SQL) ListAssignmentsForVehicle(ctx context.Context, vehicleID string, activeOnly bool) ([]model.Assignment, error) {
	query := `SELECT ` + assignmentCols + ` FROM assignments WHERE vehicle_id = ?`
	if activeOnly {
		query += ` AND status IN ` + activeStatuses
	}
	query += ` ORDER BY assigned_at, id`
	rows, err := s.db.QueryContext(ctx, s.q(query), vehicleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Assignment{}
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQL) ActiveAssignmentForRequest(ctx context.Context, requestID string) (model.Assignment, error) {
	return s.activeForRequest(ctx, s.db, requestID, false)
}

func (s *SQL) ApplyTransition(ctx context.Context, t Transition) (model.TransportRequest, error) {
	var out model.TransportRequest
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		r, err := s.getRequest(ctx, tx, t.RequestID, true)
		if err != nil {
			return err
		}
		if !containsStatus(t.From, r.Status) {
			return ErrStaleState
		}
		now := s.now()
		a, err := s.activeForRequest(ctx, tx, r.ID, true)
		hasActive := err == nil
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		if hasActive && t.Assignment != "" {
			if _, err := tx.ExecContext(ctx, s.q(`UPDATE assignments SET status = ? WHERE id = ?`), string(t.Assignment), a.ID); err != nil {
				return err
			}
		}
		if hasActive && t.ReleaseVehicle {
			v, err := s.getVehicle(ctx, tx, a.VehicleID, true)
			if err != nil && !errors.Is(err, ErrNotFound) {
				return err
			}
			if err == nil && v.Status == model.VehicleBusy {
				n, err := s.activeCount(ctx, tx, v.ID)
				if err != nil {
					return err
				}
				if n == 0 {
					v.Status = model.VehicleAvailable
					v.UpdatedAt = now
					if err := s.writeVehicle(ctx, tx, v); err != nil {
						return err
					}
				}
			}
		}
		r.Status = t.To
		if !t.To.HoldsVehicle() {
			r.AssignedVehicleID = ""
		}
		r.UpdatedAt = now
		if err := s.writeRequest(ctx, tx, r); err != nil {
			return err
		}
		out = r
		return nil
	})
	return out, err
}

func (s *SQL) AppendIncident(ctx context.Context, assignmentID string, inc model.AssignmentIncident) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		a, err := scanAssignment(tx.QueryRowContext(ctx, s.q(`SELECT `+assignmentCols+` FROM assignments WHERE id = ?`+s.forUpdate()), assignmentID))
		if err != nil {
			return err
		}
		a.Incidents = append(a.Incidents, inc)
		_, err = tx.ExecContext(ctx, s.q(`UPDATE assignments SET incidents = ? WHERE id = ?`), encodeJSON(a.Incidents), a.ID)
		return err
	})
}

func nonNilStrings(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
