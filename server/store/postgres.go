package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/itskum47/shopfloor/server/apperr"
)

// PostgresStore implements Store on a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore initializes the pool and verifies connectivity.
func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, err
	}

	// Detector loops poll every second on top of request traffic.
	config.MaxConns = 50
	config.MinConns = 5
	config.MaxConnLifetime = time.Hour
	config.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// --- Projects & priorities ---

func (s *PostgresStore) ListProjects(ctx context.Context) ([]*Project, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, priority, delivery_date FROM projects ORDER BY priority`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var projects []*Project
	for rows.Next() {
		var p Project
		if err := rows.Scan(&p.ID, &p.Name, &p.Priority, &p.DeliveryDate); err != nil {
			return nil, err
		}
		projects = append(projects, &p)
	}
	return projects, rows.Err()
}

func (s *PostgresStore) GetProject(ctx context.Context, id int64) (*Project, error) {
	var p Project
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, priority, delivery_date FROM projects WHERE id = $1`, id).
		Scan(&p.ID, &p.Name, &p.Priority, &p.DeliveryDate)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.KindNotFound, "project %d not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PostgresStore) CreateProject(ctx context.Context, p *Project) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO projects (name, priority, delivery_date) VALUES ($1, $2, $3) RETURNING id`,
		p.Name, p.Priority, p.DeliveryDate).Scan(&p.ID)
	if isUniqueViolation(err) {
		return apperr.Wrap(apperr.KindConflict, err, "priority %d already taken", p.Priority)
	}
	return err
}

func (s *PostgresStore) ApplyPriorities(ctx context.Context, assignments map[int64]int) error {
	// Density check before touching the database.
	seen := make(map[int]bool, len(assignments))
	for _, pr := range assignments {
		if pr < 1 || pr > len(assignments) || seen[pr] {
			return apperr.New(apperr.KindInvariant, "priorities must be a dense permutation of 1..%d", len(assignments))
		}
		seen[pr] = true
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	// The unique constraint on priority is deferred, so intermediate
	// duplicates inside the transaction are fine.
	for id, pr := range assignments {
		tag, err := tx.Exec(ctx, `UPDATE projects SET priority = $1 WHERE id = $2`, pr, id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return apperr.New(apperr.KindNotFound, "project %d not found", id)
		}
	}
	return tx.Commit(ctx)
}

// --- Orders ---

func (s *PostgresStore) CreateOrder(ctx context.Context, o *Order) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO orders (production_order, part_number, required_qty, launched_qty,
			project_id, raw_material_id, total_operations, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		RETURNING id, created_at`,
		o.ProductionOrder, o.PartNumber, o.RequiredQty, o.LaunchedQty,
		o.ProjectID, o.RawMaterialID, o.TotalOperations).
		Scan(&o.ID, &o.CreatedAt)
	if isUniqueViolation(err) {
		return apperr.Wrap(apperr.KindConflict, err, "production order %s already exists", o.ProductionOrder)
	}
	return err
}

const orderCols = `id, production_order, part_number, required_qty, launched_qty,
	project_id, raw_material_id, total_operations, created_at`

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	err := row.Scan(&o.ID, &o.ProductionOrder, &o.PartNumber, &o.RequiredQty, &o.LaunchedQty,
		&o.ProjectID, &o.RawMaterialID, &o.TotalOperations, &o.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *PostgresStore) GetOrder(ctx context.Context, id int64) (*Order, error) {
	o, err := scanOrder(s.pool.QueryRow(ctx,
		`SELECT `+orderCols+` FROM orders WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.KindNotFound, "order %d not found", id)
	}
	return o, err
}

func (s *PostgresStore) GetOrderByPO(ctx context.Context, productionOrder string) (*Order, error) {
	o, err := scanOrder(s.pool.QueryRow(ctx,
		`SELECT `+orderCols+` FROM orders WHERE production_order = $1`, productionOrder))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.KindNotFound, "production order %s not found", productionOrder)
	}
	return o, err
}

func (s *PostgresStore) queryOrders(ctx context.Context, query string, args ...any) ([]*Order, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func (s *PostgresStore) ListOrders(ctx context.Context) ([]*Order, error) {
	return s.queryOrders(ctx, `SELECT `+orderCols+` FROM orders ORDER BY id`)
}

func (s *PostgresStore) ListOrdersByPart(ctx context.Context, partNumber string) ([]*Order, error) {
	return s.queryOrders(ctx,
		`SELECT `+orderCols+` FROM orders WHERE part_number = $1 ORDER BY id`, partNumber)
}

func (s *PostgresStore) UpdateOrder(ctx context.Context, o *Order) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE orders SET part_number = $1, required_qty = $2, launched_qty = $3,
			project_id = $4, raw_material_id = $5, total_operations = $6
		WHERE id = $7`,
		o.PartNumber, o.RequiredQty, o.LaunchedQty, o.ProjectID, o.RawMaterialID,
		o.TotalOperations, o.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.KindNotFound, "order %d not found", o.ID)
	}
	return nil
}

func (s *PostgresStore) DeleteOrder(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM orders WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.KindNotFound, "order %d not found", id)
	}
	return nil
}

// --- Routings ---

const opCols = `id, order_id, op_number, work_center_id, machine_id, setup_hours, cycle_hours`

func (s *PostgresStore) ListOperations(ctx context.Context, orderID int64) ([]*Operation, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+opCols+` FROM operations WHERE order_id = $1 ORDER BY op_number`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ops []*Operation
	for rows.Next() {
		var op Operation
		if err := rows.Scan(&op.ID, &op.OrderID, &op.OpNumber, &op.WorkCenterID,
			&op.MachineID, &op.SetupHours, &op.CycleHours); err != nil {
			return nil, err
		}
		ops = append(ops, &op)
	}
	return ops, rows.Err()
}

func (s *PostgresStore) GetOperation(ctx context.Context, orderID int64, opNumber int) (*Operation, error) {
	var op Operation
	err := s.pool.QueryRow(ctx,
		`SELECT `+opCols+` FROM operations WHERE order_id = $1 AND op_number = $2`,
		orderID, opNumber).
		Scan(&op.ID, &op.OrderID, &op.OpNumber, &op.WorkCenterID,
			&op.MachineID, &op.SetupHours, &op.CycleHours)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.KindNotFound, "operation %d of order %d not found", opNumber, orderID)
	}
	if err != nil {
		return nil, err
	}
	return &op, nil
}

func (s *PostgresStore) UpsertOperation(ctx context.Context, op *Operation) error {
	return s.pool.QueryRow(ctx, `
		INSERT INTO operations (order_id, op_number, work_center_id, machine_id, setup_hours, cycle_hours)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (order_id, op_number) DO UPDATE SET
			work_center_id = EXCLUDED.work_center_id,
			machine_id     = EXCLUDED.machine_id,
			setup_hours    = EXCLUDED.setup_hours,
			cycle_hours    = EXCLUDED.cycle_hours
		RETURNING id`,
		op.OrderID, op.OpNumber, op.WorkCenterID, op.MachineID, op.SetupHours, op.CycleHours).
		Scan(&op.ID)
}

// --- Work centers & machines ---

func (s *PostgresStore) ListWorkCenters(ctx context.Context) ([]*WorkCenter, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, code, is_schedulable FROM work_centers ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var wcs []*WorkCenter
	for rows.Next() {
		var wc WorkCenter
		if err := rows.Scan(&wc.ID, &wc.Code, &wc.IsSchedulable); err != nil {
			return nil, err
		}
		wcs = append(wcs, &wc)
	}
	return wcs, rows.Err()
}

func (s *PostgresStore) GetWorkCenter(ctx context.Context, id int64) (*WorkCenter, error) {
	var wc WorkCenter
	err := s.pool.QueryRow(ctx,
		`SELECT id, code, is_schedulable FROM work_centers WHERE id = $1`, id).
		Scan(&wc.ID, &wc.Code, &wc.IsSchedulable)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.KindNotFound, "work center %d not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &wc, nil
}

func (s *PostgresStore) ListMachines(ctx context.Context) ([]*Machine, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, work_center_id, last_calibration, calibration_due FROM machines ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var machines []*Machine
	for rows.Next() {
		var m Machine
		if err := rows.Scan(&m.ID, &m.Name, &m.WorkCenterID, &m.LastCalibration, &m.CalibrationDue); err != nil {
			return nil, err
		}
		machines = append(machines, &m)
	}
	return machines, rows.Err()
}

func (s *PostgresStore) GetMachine(ctx context.Context, id int64) (*Machine, error) {
	var m Machine
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, work_center_id, last_calibration, calibration_due FROM machines WHERE id = $1`, id).
		Scan(&m.ID, &m.Name, &m.WorkCenterID, &m.LastCalibration, &m.CalibrationDue)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.KindNotFound, "machine %d not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// --- Raw materials ---

func (s *PostgresStore) GetRawMaterial(ctx context.Context, id int64) (*RawMaterial, error) {
	var rm RawMaterial
	err := s.pool.QueryRow(ctx, `
		SELECT id, part, qty, available_qty, unit, status, available_from
		FROM raw_materials WHERE id = $1`, id).
		Scan(&rm.ID, &rm.Part, &rm.Qty, &rm.AvailableQty, &rm.Unit, &rm.Status, &rm.AvailableFrom)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.KindNotFound, "raw material %d not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &rm, nil
}

func (s *PostgresStore) UpsertRawMaterial(ctx context.Context, rm *RawMaterial) error {
	if rm.AvailableQty.GreaterThan(rm.Qty) {
		return apperr.New(apperr.KindInvariant, "available_qty %s exceeds qty %s",
			rm.AvailableQty.String(), rm.Qty.String())
	}
	if rm.ID == 0 {
		return s.pool.QueryRow(ctx, `
			INSERT INTO raw_materials (part, qty, available_qty, unit, status, available_from)
			VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
			rm.Part, rm.Qty, rm.AvailableQty, rm.Unit, rm.Status, rm.AvailableFrom).Scan(&rm.ID)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE raw_materials SET part = $1, qty = $2, available_qty = $3, unit = $4,
			status = $5, available_from = $6
		WHERE id = $7`,
		rm.Part, rm.Qty, rm.AvailableQty, rm.Unit, rm.Status, rm.AvailableFrom, rm.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.KindNotFound, "raw material %d not found", rm.ID)
	}
	return nil
}

// --- Machine status ---

func (s *PostgresStore) ListMachineStatuses(ctx context.Context) ([]*MachineStatus, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT machine_id, status_code, available_from FROM machine_statuses`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var statuses []*MachineStatus
	for rows.Next() {
		var st MachineStatus
		if err := rows.Scan(&st.MachineID, &st.StatusCode, &st.AvailableFrom); err != nil {
			return nil, err
		}
		statuses = append(statuses, &st)
	}
	return statuses, rows.Err()
}

func (s *PostgresStore) GetMachineStatus(ctx context.Context, machineID int64) (*MachineStatus, error) {
	var st MachineStatus
	err := s.pool.QueryRow(ctx,
		`SELECT machine_id, status_code, available_from FROM machine_statuses WHERE machine_id = $1`,
		machineID).Scan(&st.MachineID, &st.StatusCode, &st.AvailableFrom)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.KindNotFound, "no status for machine %d", machineID)
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *PostgresStore) SetMachineStatus(ctx context.Context, st *MachineStatus) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO machine_statuses (machine_id, status_code, available_from)
		VALUES ($1, $2, $3)
		ON CONFLICT (machine_id) DO UPDATE SET
			status_code = EXCLUDED.status_code,
			available_from = EXCLUDED.available_from`,
		st.MachineID, st.StatusCode, st.AvailableFrom)
	return err
}

// --- Downtimes ---

const downtimeCols = `id, machine_id, open_at, in_progress_at, closed_at,
	description, action_taken, priority, reported_by`

func (s *PostgresStore) CreateDowntime(ctx context.Context, d *Downtime) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO downtimes (id, machine_id, open_at, in_progress_at, closed_at,
			description, action_taken, priority, reported_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		d.ID, d.MachineID, d.OpenAt, d.InProgressAt, d.ClosedAt,
		d.Description, d.ActionTaken, d.Priority, d.ReportedBy)
	if isUniqueViolation(err) {
		return apperr.Wrap(apperr.KindConflict, err, "machine %d already has an open downtime", d.MachineID)
	}
	return err
}

func scanDowntime(row pgx.Row) (*Downtime, error) {
	var d Downtime
	err := row.Scan(&d.ID, &d.MachineID, &d.OpenAt, &d.InProgressAt, &d.ClosedAt,
		&d.Description, &d.ActionTaken, &d.Priority, &d.ReportedBy)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *PostgresStore) GetDowntime(ctx context.Context, id string) (*Downtime, error) {
	d, err := scanDowntime(s.pool.QueryRow(ctx,
		`SELECT `+downtimeCols+` FROM downtimes WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.KindNotFound, "downtime %s not found", id)
	}
	return d, err
}

func (s *PostgresStore) queryDowntimes(ctx context.Context, query string, args ...any) ([]*Downtime, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []*Downtime
	for rows.Next() {
		d, err := scanDowntime(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, d)
	}
	return list, rows.Err()
}

func (s *PostgresStore) ListDowntimes(ctx context.Context, openOnly bool) ([]*Downtime, error) {
	if openOnly {
		return s.queryDowntimes(ctx,
			`SELECT `+downtimeCols+` FROM downtimes WHERE closed_at IS NULL ORDER BY open_at`)
	}
	return s.queryDowntimes(ctx,
		`SELECT `+downtimeCols+` FROM downtimes ORDER BY open_at`)
}

func (s *PostgresStore) ListDowntimesByMachine(ctx context.Context, machineID int64) ([]*Downtime, error) {
	return s.queryDowntimes(ctx,
		`SELECT `+downtimeCols+` FROM downtimes WHERE machine_id = $1 ORDER BY open_at`, machineID)
}

func (s *PostgresStore) UpdateDowntime(ctx context.Context, d *Downtime) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE downtimes SET in_progress_at = $1, closed_at = $2, action_taken = $3
		WHERE id = $4`,
		d.InProgressAt, d.ClosedAt, d.ActionTaken, d.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.KindNotFound, "downtime %s not found", d.ID)
	}
	return nil
}

// --- Part schedule gating ---

func (s *PostgresStore) ListActiveParts(ctx context.Context) ([]*PartScheduleStatus, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT part_number, production_order, active
		FROM part_schedule_statuses WHERE active ORDER BY part_number`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []*PartScheduleStatus
	for rows.Next() {
		var st PartScheduleStatus
		if err := rows.Scan(&st.PartNumber, &st.ProductionOrder, &st.Active); err != nil {
			return nil, err
		}
		list = append(list, &st)
	}
	return list, rows.Err()
}

func (s *PostgresStore) SetPartScheduleStatus(ctx context.Context, st *PartScheduleStatus) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO part_schedule_statuses (part_number, production_order, active)
		VALUES ($1, $2, $3)
		ON CONFLICT (part_number, production_order) DO UPDATE SET active = EXCLUDED.active`,
		st.PartNumber, st.ProductionOrder, st.Active)
	return err
}

// --- PSIs & schedule versions ---

func (s *PostgresStore) GetOrCreatePSI(ctx context.Context, psi *PlannedScheduleItem) (*PlannedScheduleItem, error) {
	// Upsert keyed by (order, operation); machine and quantity follow the
	// latest plan.
	err := s.pool.QueryRow(ctx, `
		INSERT INTO planned_schedule_items (order_id, operation_id, machine_id, total_quantity, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (order_id, operation_id) DO UPDATE SET
			machine_id = EXCLUDED.machine_id,
			total_quantity = EXCLUDED.total_quantity
		RETURNING id, created_at`,
		psi.OrderID, psi.OperationID, psi.MachineID, psi.TotalQuantity).
		Scan(&psi.ID, &psi.CreatedAt)
	if err != nil {
		return nil, err
	}
	return psi, nil
}

func (s *PostgresStore) GetPSI(ctx context.Context, id int64) (*PlannedScheduleItem, error) {
	var psi PlannedScheduleItem
	err := s.pool.QueryRow(ctx, `
		SELECT id, order_id, operation_id, machine_id, total_quantity, created_at
		FROM planned_schedule_items WHERE id = $1`, id).
		Scan(&psi.ID, &psi.OrderID, &psi.OperationID, &psi.MachineID, &psi.TotalQuantity, &psi.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.KindNotFound, "planned schedule item %d not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &psi, nil
}

func (s *PostgresStore) ListPSIsByOrder(ctx context.Context, orderID int64) ([]*PlannedScheduleItem, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, order_id, operation_id, machine_id, total_quantity, created_at
		FROM planned_schedule_items WHERE order_id = $1 ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []*PlannedScheduleItem
	for rows.Next() {
		var psi PlannedScheduleItem
		if err := rows.Scan(&psi.ID, &psi.OrderID, &psi.OperationID, &psi.MachineID,
			&psi.TotalQuantity, &psi.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &psi)
	}
	return list, rows.Err()
}

const svCols = `id, psi_id, version_no, is_active, planned_start, planned_end,
	planned_quantity, completed_quantity, remaining_quantity, created_at`

func scanSV(row pgx.Row) (*ScheduleVersion, error) {
	var sv ScheduleVersion
	err := row.Scan(&sv.ID, &sv.PSIID, &sv.VersionNo, &sv.IsActive, &sv.PlannedStart,
		&sv.PlannedEnd, &sv.PlannedQuantity, &sv.CompletedQuantity, &sv.RemainingQuantity,
		&sv.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &sv, nil
}

func (s *PostgresStore) ActivateScheduleVersion(ctx context.Context, sv *ScheduleVersion) (*ScheduleVersion, int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, 0, err
	}
	defer tx.Rollback(ctx)

	var displaced int64
	err = tx.QueryRow(ctx, `
		UPDATE schedule_versions SET is_active = FALSE
		WHERE psi_id = $1 AND is_active RETURNING id`, sv.PSIID).Scan(&displaced)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, 0, err
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO schedule_versions (psi_id, version_no, is_active, planned_start, planned_end,
			planned_quantity, completed_quantity, remaining_quantity, created_at)
		SELECT $1, COALESCE(MAX(version_no), 0) + 1, TRUE, $2, $3, $4, $5, $6, NOW()
		FROM schedule_versions WHERE psi_id = $1
		RETURNING id, version_no, created_at`,
		sv.PSIID, sv.PlannedStart, sv.PlannedEnd,
		sv.PlannedQuantity, sv.CompletedQuantity, sv.RemainingQuantity).
		Scan(&sv.ID, &sv.VersionNo, &sv.CreatedAt)
	if err != nil {
		return nil, 0, err
	}
	sv.IsActive = true

	if err := tx.Commit(ctx); err != nil {
		return nil, 0, err
	}
	return sv, displaced, nil
}

func (s *PostgresStore) ApplyScheduleRun(ctx context.Context, placements []SchedulePlacement, record *RescheduleRecord) ([]int64, []int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback(ctx)

	var activated, displaced []int64
	for _, pl := range placements {
		var psiID int64
		err := tx.QueryRow(ctx, `
			INSERT INTO planned_schedule_items (order_id, operation_id, machine_id, total_quantity, created_at)
			VALUES ($1, $2, $3, $4, NOW())
			ON CONFLICT (order_id, operation_id) DO UPDATE SET
				machine_id = EXCLUDED.machine_id,
				total_quantity = EXCLUDED.total_quantity
			RETURNING id`,
			pl.OrderID, pl.OperationID, pl.MachineID, pl.Quantity).Scan(&psiID)
		if err != nil {
			return nil, nil, err
		}

		var prior int64
		err = tx.QueryRow(ctx, `
			UPDATE schedule_versions SET is_active = FALSE
			WHERE psi_id = $1 AND is_active RETURNING id`, psiID).Scan(&prior)
		switch {
		case err == nil:
			displaced = append(displaced, prior)
		case !errors.Is(err, pgx.ErrNoRows):
			return nil, nil, err
		}

		var svID int64
		err = tx.QueryRow(ctx, `
			INSERT INTO schedule_versions (psi_id, version_no, is_active, planned_start, planned_end,
				planned_quantity, completed_quantity, remaining_quantity, created_at)
			SELECT $1, COALESCE(MAX(version_no), 0) + 1, TRUE, $2, $3, $4, 0, $4, NOW()
			FROM schedule_versions WHERE psi_id = $1
			RETURNING id`,
			psiID, pl.Start, pl.End, pl.Quantity).Scan(&svID)
		if err != nil {
			return nil, nil, err
		}
		activated = append(activated, svID)
	}

	record.Predecessors = displaced
	record.Successors = activated
	if _, err := tx.Exec(ctx, `
		INSERT INTO reschedule_records (id, trigger_kind, triggered_by, ts, predecessors, successors)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		record.ID, record.Trigger, record.TriggeredBy, record.Timestamp,
		record.Predecessors, record.Successors); err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, nil, err
	}
	return activated, displaced, nil
}

func (s *PostgresStore) querySVs(ctx context.Context, query string, args ...any) ([]*ScheduleVersion, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []*ScheduleVersion
	for rows.Next() {
		sv, err := scanSV(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, sv)
	}
	return list, rows.Err()
}

func (s *PostgresStore) ListActiveScheduleVersions(ctx context.Context) ([]*ScheduleVersion, error) {
	return s.querySVs(ctx,
		`SELECT `+svCols+` FROM schedule_versions WHERE is_active ORDER BY planned_start`)
}

func (s *PostgresStore) ListScheduleVersionsByPSI(ctx context.Context, psiID int64) ([]*ScheduleVersion, error) {
	return s.querySVs(ctx,
		`SELECT `+svCols+` FROM schedule_versions WHERE psi_id = $1 ORDER BY version_no`, psiID)
}

// --- Production logs ---

func (s *PostgresStore) AppendProductionLog(ctx context.Context, pl *ProductionLog) error {
	return s.pool.QueryRow(ctx, `
		INSERT INTO production_logs (psi_id, sv_id, operator, started_at, stopped_at,
			good_qty, bad_qty, reason_codes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		pl.PSIID, pl.SVID, pl.Operator, pl.StartedAt, pl.StoppedAt,
		pl.GoodQty, pl.BadQty, pl.ReasonCodes).Scan(&pl.ID)
}

func (s *PostgresStore) ListProductionLogs(ctx context.Context, from, to time.Time, partNumber string) ([]*ProductionLog, error) {
	query := `
		SELECT pl.id, pl.psi_id, pl.sv_id, pl.operator, pl.started_at, pl.stopped_at,
			pl.good_qty, pl.bad_qty, pl.reason_codes
		FROM production_logs pl`
	args := []any{from, to}
	if partNumber != "" {
		query += `
		JOIN planned_schedule_items psi ON psi.id = pl.psi_id
		JOIN orders o ON o.id = psi.order_id
		WHERE pl.started_at >= $1 AND pl.started_at < $2 AND o.part_number = $3`
		args = append(args, partNumber)
	} else {
		query += ` WHERE pl.started_at >= $1 AND pl.started_at < $2`
	}
	query += ` ORDER BY pl.started_at`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []*ProductionLog
	for rows.Next() {
		var pl ProductionLog
		if err := rows.Scan(&pl.ID, &pl.PSIID, &pl.SVID, &pl.Operator, &pl.StartedAt,
			&pl.StoppedAt, &pl.GoodQty, &pl.BadQty, &pl.ReasonCodes); err != nil {
			return nil, err
		}
		list = append(list, &pl)
	}
	return list, rows.Err()
}

func (s *PostgresStore) AddCompletedQuantity(ctx context.Context, svID int64, goodQty int) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE schedule_versions SET
			completed_quantity = completed_quantity + $1,
			remaining_quantity = GREATEST(remaining_quantity - $1, 0)
		WHERE id = $2`, goodQty, svID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.KindNotFound, "schedule version %d not found", svID)
	}
	return nil
}

// --- Telemetry ---

const telemetryCols = `machine_id, ts, voltage_l1, voltage_l2, voltage_l3,
	current_l1, current_l2, current_l3, power_kw, energy_kwh, power_factor,
	frequency, op_mode, prog_status, part_count, job_status`

func telemetryArgs(row *TelemetryRow) []any {
	return []any{row.MachineID, row.Timestamp, row.VoltageL1, row.VoltageL2, row.VoltageL3,
		row.CurrentL1, row.CurrentL2, row.CurrentL3, row.PowerKW, row.EnergyKWH,
		row.PowerFct, row.Frequency, row.OpMode, row.ProgStatus, row.PartCount, row.JobStatus}
}

func scanTelemetry(row pgx.Row) (*TelemetryRow, error) {
	var t TelemetryRow
	err := row.Scan(&t.MachineID, &t.Timestamp, &t.VoltageL1, &t.VoltageL2, &t.VoltageL3,
		&t.CurrentL1, &t.CurrentL2, &t.CurrentL3, &t.PowerKW, &t.EnergyKWH,
		&t.PowerFct, &t.Frequency, &t.OpMode, &t.ProgStatus, &t.PartCount, &t.JobStatus)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *PostgresStore) UpsertTelemetryLive(ctx context.Context, row *TelemetryRow) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO telemetry_live (`+telemetryCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (machine_id) DO UPDATE SET
			ts = EXCLUDED.ts, voltage_l1 = EXCLUDED.voltage_l1, voltage_l2 = EXCLUDED.voltage_l2,
			voltage_l3 = EXCLUDED.voltage_l3, current_l1 = EXCLUDED.current_l1,
			current_l2 = EXCLUDED.current_l2, current_l3 = EXCLUDED.current_l3,
			power_kw = EXCLUDED.power_kw, energy_kwh = EXCLUDED.energy_kwh,
			power_factor = EXCLUDED.power_factor, frequency = EXCLUDED.frequency,
			op_mode = EXCLUDED.op_mode, prog_status = EXCLUDED.prog_status,
			part_count = EXCLUDED.part_count, job_status = EXCLUDED.job_status`,
		telemetryArgs(row)...)
	return err
}

func (s *PostgresStore) AppendTelemetryHistory(ctx context.Context, row *TelemetryRow) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO telemetry_history (`+telemetryCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		telemetryArgs(row)...)
	return err
}

func (s *PostgresStore) ListTelemetryLive(ctx context.Context) ([]*TelemetryRow, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+telemetryCols+` FROM telemetry_live ORDER BY machine_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []*TelemetryRow
	for rows.Next() {
		t, err := scanTelemetry(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, t)
	}
	return list, rows.Err()
}

func (s *PostgresStore) TelemetryHistoryRange(ctx context.Context, machineID int64, from, to time.Time) ([]*TelemetryRow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+telemetryCols+` FROM telemetry_history
		WHERE machine_id = $1 AND ts >= $2 AND ts <= $3 ORDER BY ts`,
		machineID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []*TelemetryRow
	for rows.Next() {
		t, err := scanTelemetry(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, t)
	}
	return list, rows.Err()
}

func (s *PostgresStore) LatestTelemetryHistory(ctx context.Context, machineID int64) (*TelemetryRow, error) {
	t, err := scanTelemetry(s.pool.QueryRow(ctx, `
		SELECT `+telemetryCols+` FROM telemetry_history
		WHERE machine_id = $1 ORDER BY ts DESC LIMIT 1`, machineID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return t, err
}

// --- Shiftwise energy ---

func (s *PostgresStore) UpsertShiftwiseLive(ctx context.Context, e *ShiftwiseEnergy) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO shiftwise_energy_live (machine_id, ts, shift1, shift2, shift3, total)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (machine_id) DO UPDATE SET
			ts = EXCLUDED.ts, shift1 = EXCLUDED.shift1, shift2 = EXCLUDED.shift2,
			shift3 = EXCLUDED.shift3, total = EXCLUDED.total`,
		e.MachineID, e.Timestamp, e.Shift1, e.Shift2, e.Shift3, e.Total)
	return err
}

func (s *PostgresStore) AppendShiftwiseHistory(ctx context.Context, e *ShiftwiseEnergy) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO shiftwise_energy_history (machine_id, ts, shift1, shift2, shift3, total)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		e.MachineID, e.Timestamp, e.Shift1, e.Shift2, e.Shift3, e.Total)
	return err
}

func (s *PostgresStore) ListShiftwiseLive(ctx context.Context) ([]*ShiftwiseEnergy, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT machine_id, ts, shift1, shift2, shift3, total
		FROM shiftwise_energy_live ORDER BY machine_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []*ShiftwiseEnergy
	for rows.Next() {
		var e ShiftwiseEnergy
		if err := rows.Scan(&e.MachineID, &e.Timestamp, &e.Shift1, &e.Shift2, &e.Shift3, &e.Total); err != nil {
			return nil, err
		}
		list = append(list, &e)
	}
	return list, rows.Err()
}

// --- Reschedule audit ---

func (s *PostgresStore) AppendRescheduleRecord(ctx context.Context, r *RescheduleRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO reschedule_records (id, trigger_kind, triggered_by, ts, predecessors, successors)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		r.ID, r.Trigger, r.TriggeredBy, r.Timestamp, r.Predecessors, r.Successors)
	return err
}

func (s *PostgresStore) ListRescheduleRecords(ctx context.Context, limit int) ([]*RescheduleRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, trigger_kind, triggered_by, ts, predecessors, successors
		FROM reschedule_records ORDER BY ts DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []*RescheduleRecord
	for rows.Next() {
		var r RescheduleRecord
		if err := rows.Scan(&r.ID, &r.Trigger, &r.TriggeredBy, &r.Timestamp,
			&r.Predecessors, &r.Successors); err != nil {
			return nil, err
		}
		list = append(list, &r)
	}
	return list, rows.Err()
}
