package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/itskum47/shopfloor/server/apperr"
)

// MemoryStore implements Store in memory. It backs unit tests and
// single-node dev mode; behavior mirrors PostgresStore including conflict
// and not-found semantics.
type MemoryStore struct {
	mu sync.RWMutex

	projects      map[int64]*Project
	orders        map[int64]*Order
	operations    map[int64][]*Operation // keyed by order id, sorted by op number
	workCenters   map[int64]*WorkCenter
	machines      map[int64]*Machine
	rawMaterials  map[int64]*RawMaterial
	statuses      map[int64]*MachineStatus
	downtimes     map[string]*Downtime
	partStatuses  map[[2]string]*PartScheduleStatus
	psis          map[int64]*PlannedScheduleItem
	svs           map[int64]*ScheduleVersion
	prodLogs      []*ProductionLog
	telemetryLive map[int64]*TelemetryRow
	telemetryHist []*TelemetryRow
	shiftLive     map[int64]*ShiftwiseEnergy
	shiftHist     []*ShiftwiseEnergy
	reschedules   []*RescheduleRecord

	nextID int64
}

// NewMemoryStore initializes an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		projects:      make(map[int64]*Project),
		orders:        make(map[int64]*Order),
		operations:    make(map[int64][]*Operation),
		workCenters:   make(map[int64]*WorkCenter),
		machines:      make(map[int64]*Machine),
		rawMaterials:  make(map[int64]*RawMaterial),
		statuses:      make(map[int64]*MachineStatus),
		downtimes:     make(map[string]*Downtime),
		partStatuses:  make(map[[2]string]*PartScheduleStatus),
		psis:          make(map[int64]*PlannedScheduleItem),
		svs:           make(map[int64]*ScheduleVersion),
		telemetryLive: make(map[int64]*TelemetryRow),
		shiftLive:     make(map[int64]*ShiftwiseEnergy),
	}
}

func (s *MemoryStore) Close() {}

func (s *MemoryStore) allocID() int64 {
	s.nextID++
	return s.nextID
}

// Seed helpers: tests and dev mode register catalog rows directly.

func (s *MemoryStore) AddWorkCenter(wc *WorkCenter) *WorkCenter {
	s.mu.Lock()
	defer s.mu.Unlock()
	if wc.ID == 0 {
		wc.ID = s.allocID()
	}
	s.workCenters[wc.ID] = wc
	return wc
}

func (s *MemoryStore) AddMachine(m *Machine) *Machine {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == 0 {
		m.ID = s.allocID()
	}
	s.machines[m.ID] = m
	return m
}

// --- Projects & priorities ---

func (s *MemoryStore) ListProjects(ctx context.Context) ([]*Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := make([]*Project, 0, len(s.projects))
	for _, p := range s.projects {
		cp := *p
		list = append(list, &cp)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Priority < list[j].Priority })
	return list, nil
}

func (s *MemoryStore) GetProject(ctx context.Context, id int64) (*Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[id]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "project %d not found", id)
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) CreateProject(ctx context.Context, p *Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.projects {
		if existing.Priority == p.Priority {
			return apperr.New(apperr.KindConflict, "priority %d already taken", p.Priority)
		}
	}
	if p.ID == 0 {
		p.ID = s.allocID()
	}
	cp := *p
	s.projects[p.ID] = &cp
	return nil
}

func (s *MemoryStore) ApplyPriorities(ctx context.Context, assignments map[int64]int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[int]bool, len(assignments))
	for _, pr := range assignments {
		if pr < 1 || pr > len(assignments) || seen[pr] {
			return apperr.New(apperr.KindInvariant, "priorities must be a dense permutation of 1..%d", len(assignments))
		}
		seen[pr] = true
	}
	for id := range assignments {
		if _, ok := s.projects[id]; !ok {
			return apperr.New(apperr.KindNotFound, "project %d not found", id)
		}
	}
	for id, pr := range assignments {
		s.projects[id].Priority = pr
	}
	return nil
}

// --- Orders ---

func (s *MemoryStore) CreateOrder(ctx context.Context, o *Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.orders {
		if existing.ProductionOrder == o.ProductionOrder {
			return apperr.New(apperr.KindConflict, "production order %s already exists", o.ProductionOrder)
		}
	}
	if o.ID == 0 {
		o.ID = s.allocID()
	}
	o.CreatedAt = time.Now()
	cp := *o
	s.orders[o.ID] = &cp
	return nil
}

func (s *MemoryStore) GetOrder(ctx context.Context, id int64) (*Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "order %d not found", id)
	}
	cp := *o
	return &cp, nil
}

func (s *MemoryStore) GetOrderByPO(ctx context.Context, productionOrder string) (*Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, o := range s.orders {
		if o.ProductionOrder == productionOrder {
			cp := *o
			return &cp, nil
		}
	}
	return nil, apperr.New(apperr.KindNotFound, "production order %s not found", productionOrder)
}

func (s *MemoryStore) ListOrders(ctx context.Context) ([]*Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := make([]*Order, 0, len(s.orders))
	for _, o := range s.orders {
		cp := *o
		list = append(list, &cp)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list, nil
}

func (s *MemoryStore) ListOrdersByPart(ctx context.Context, partNumber string) ([]*Order, error) {
	all, _ := s.ListOrders(ctx)
	var list []*Order
	for _, o := range all {
		if o.PartNumber == partNumber {
			list = append(list, o)
		}
	}
	return list, nil
}

func (s *MemoryStore) UpdateOrder(ctx context.Context, o *Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.orders[o.ID]
	if !ok {
		return apperr.New(apperr.KindNotFound, "order %d not found", o.ID)
	}
	o.ProductionOrder = existing.ProductionOrder
	o.CreatedAt = existing.CreatedAt
	cp := *o
	s.orders[o.ID] = &cp
	return nil
}

func (s *MemoryStore) DeleteOrder(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[id]; !ok {
		return apperr.New(apperr.KindNotFound, "order %d not found", id)
	}
	delete(s.orders, id)
	delete(s.operations, id)
	return nil
}

// --- Routings ---

func (s *MemoryStore) ListOperations(ctx context.Context, orderID int64) ([]*Operation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ops := s.operations[orderID]
	list := make([]*Operation, 0, len(ops))
	for _, op := range ops {
		cp := *op
		list = append(list, &cp)
	}
	return list, nil
}

func (s *MemoryStore) GetOperation(ctx context.Context, orderID int64, opNumber int) (*Operation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, op := range s.operations[orderID] {
		if op.OpNumber == opNumber {
			cp := *op
			return &cp, nil
		}
	}
	return nil, apperr.New(apperr.KindNotFound, "operation %d of order %d not found", opNumber, orderID)
}

func (s *MemoryStore) UpsertOperation(ctx context.Context, op *Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ops := s.operations[op.OrderID]
	for i, existing := range ops {
		if existing.OpNumber == op.OpNumber {
			op.ID = existing.ID
			cp := *op
			ops[i] = &cp
			return nil
		}
	}
	if op.ID == 0 {
		op.ID = s.allocID()
	}
	cp := *op
	ops = append(ops, &cp)
	sort.Slice(ops, func(i, j int) bool { return ops[i].OpNumber < ops[j].OpNumber })
	s.operations[op.OrderID] = ops
	return nil
}

// --- Work centers & machines ---

func (s *MemoryStore) ListWorkCenters(ctx context.Context) ([]*WorkCenter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := make([]*WorkCenter, 0, len(s.workCenters))
	for _, wc := range s.workCenters {
		cp := *wc
		list = append(list, &cp)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list, nil
}

func (s *MemoryStore) GetWorkCenter(ctx context.Context, id int64) (*WorkCenter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wc, ok := s.workCenters[id]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "work center %d not found", id)
	}
	cp := *wc
	return &cp, nil
}

func (s *MemoryStore) ListMachines(ctx context.Context) ([]*Machine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := make([]*Machine, 0, len(s.machines))
	for _, m := range s.machines {
		cp := *m
		list = append(list, &cp)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list, nil
}

func (s *MemoryStore) GetMachine(ctx context.Context, id int64) (*Machine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.machines[id]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "machine %d not found", id)
	}
	cp := *m
	return &cp, nil
}

// --- Raw materials ---

func (s *MemoryStore) GetRawMaterial(ctx context.Context, id int64) (*RawMaterial, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rm, ok := s.rawMaterials[id]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "raw material %d not found", id)
	}
	cp := *rm
	return &cp, nil
}

func (s *MemoryStore) UpsertRawMaterial(ctx context.Context, rm *RawMaterial) error {
	if rm.AvailableQty.GreaterThan(rm.Qty) {
		return apperr.New(apperr.KindInvariant, "available_qty %s exceeds qty %s",
			rm.AvailableQty.String(), rm.Qty.String())
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if rm.ID == 0 {
		rm.ID = s.allocID()
	}
	cp := *rm
	s.rawMaterials[rm.ID] = &cp
	return nil
}

// --- Machine status ---

func (s *MemoryStore) ListMachineStatuses(ctx context.Context) ([]*MachineStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := make([]*MachineStatus, 0, len(s.statuses))
	for _, st := range s.statuses {
		cp := *st
		list = append(list, &cp)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].MachineID < list[j].MachineID })
	return list, nil
}

func (s *MemoryStore) GetMachineStatus(ctx context.Context, machineID int64) (*MachineStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.statuses[machineID]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "no status for machine %d", machineID)
	}
	cp := *st
	return &cp, nil
}

func (s *MemoryStore) SetMachineStatus(ctx context.Context, st *MachineStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *st
	s.statuses[st.MachineID] = &cp
	return nil
}

// --- Downtimes ---

func (s *MemoryStore) CreateDowntime(ctx context.Context, d *Downtime) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.downtimes {
		if existing.MachineID == d.MachineID && existing.IsOpen() {
			return apperr.New(apperr.KindConflict, "machine %d already has an open downtime", d.MachineID)
		}
	}
	cp := *d
	s.downtimes[d.ID] = &cp
	return nil
}

func (s *MemoryStore) GetDowntime(ctx context.Context, id string) (*Downtime, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.downtimes[id]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "downtime %s not found", id)
	}
	cp := *d
	return &cp, nil
}

func (s *MemoryStore) listDowntimes(filter func(*Downtime) bool) []*Downtime {
	var list []*Downtime
	for _, d := range s.downtimes {
		if filter(d) {
			cp := *d
			list = append(list, &cp)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].OpenAt.Before(list[j].OpenAt) })
	return list
}

func (s *MemoryStore) ListDowntimes(ctx context.Context, openOnly bool) ([]*Downtime, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listDowntimes(func(d *Downtime) bool { return !openOnly || d.IsOpen() }), nil
}

func (s *MemoryStore) ListDowntimesByMachine(ctx context.Context, machineID int64) ([]*Downtime, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listDowntimes(func(d *Downtime) bool { return d.MachineID == machineID }), nil
}

func (s *MemoryStore) UpdateDowntime(ctx context.Context, d *Downtime) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.downtimes[d.ID]
	if !ok {
		return apperr.New(apperr.KindNotFound, "downtime %s not found", d.ID)
	}
	existing.InProgressAt = d.InProgressAt
	existing.ClosedAt = d.ClosedAt
	existing.ActionTaken = d.ActionTaken
	return nil
}

// --- Part schedule gating ---

func (s *MemoryStore) ListActiveParts(ctx context.Context) ([]*PartScheduleStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var list []*PartScheduleStatus
	for _, st := range s.partStatuses {
		if st.Active {
			cp := *st
			list = append(list, &cp)
		}
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].PartNumber != list[j].PartNumber {
			return list[i].PartNumber < list[j].PartNumber
		}
		return list[i].ProductionOrder < list[j].ProductionOrder
	})
	return list, nil
}

func (s *MemoryStore) SetPartScheduleStatus(ctx context.Context, st *PartScheduleStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *st
	s.partStatuses[[2]string{st.PartNumber, st.ProductionOrder}] = &cp
	return nil
}

// --- PSIs & schedule versions ---

func (s *MemoryStore) GetOrCreatePSI(ctx context.Context, psi *PlannedScheduleItem) (*PlannedScheduleItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.psis {
		if existing.OrderID == psi.OrderID && existing.OperationID == psi.OperationID {
			existing.MachineID = psi.MachineID
			existing.TotalQuantity = psi.TotalQuantity
			cp := *existing
			*psi = cp
			return psi, nil
		}
	}
	psi.ID = s.allocID()
	psi.CreatedAt = time.Now()
	cp := *psi
	s.psis[psi.ID] = &cp
	return psi, nil
}

func (s *MemoryStore) GetPSI(ctx context.Context, id int64) (*PlannedScheduleItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	psi, ok := s.psis[id]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "planned schedule item %d not found", id)
	}
	cp := *psi
	return &cp, nil
}

func (s *MemoryStore) ListPSIsByOrder(ctx context.Context, orderID int64) ([]*PlannedScheduleItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var list []*PlannedScheduleItem
	for _, psi := range s.psis {
		if psi.OrderID == orderID {
			cp := *psi
			list = append(list, &cp)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list, nil
}

func (s *MemoryStore) ActivateScheduleVersion(ctx context.Context, sv *ScheduleVersion) (*ScheduleVersion, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var displaced int64
	maxVersion := 0
	for _, existing := range s.svs {
		if existing.PSIID != sv.PSIID {
			continue
		}
		if existing.VersionNo > maxVersion {
			maxVersion = existing.VersionNo
		}
		if existing.IsActive {
			existing.IsActive = false
			displaced = existing.ID
		}
	}

	sv.ID = s.allocID()
	sv.VersionNo = maxVersion + 1
	sv.IsActive = true
	sv.CreatedAt = time.Now()
	cp := *sv
	s.svs[sv.ID] = &cp
	return sv, displaced, nil
}

func (s *MemoryStore) ApplyScheduleRun(ctx context.Context, placements []SchedulePlacement, record *RescheduleRecord) ([]int64, []int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	// The whole run applies under one lock hold with the context checked
	// only at entry, so observers never see a partially applied run. This
	// mirrors the single transaction of the Postgres store.
	var activated, displaced []int64
	for _, pl := range placements {
		var psi *PlannedScheduleItem
		for _, existing := range s.psis {
			if existing.OrderID == pl.OrderID && existing.OperationID == pl.OperationID {
				existing.MachineID = pl.MachineID
				existing.TotalQuantity = pl.Quantity
				psi = existing
				break
			}
		}
		if psi == nil {
			psi = &PlannedScheduleItem{
				ID:            s.allocID(),
				OrderID:       pl.OrderID,
				OperationID:   pl.OperationID,
				MachineID:     pl.MachineID,
				TotalQuantity: pl.Quantity,
				CreatedAt:     time.Now(),
			}
			s.psis[psi.ID] = psi
		}

		maxVersion := 0
		for _, existing := range s.svs {
			if existing.PSIID != psi.ID {
				continue
			}
			if existing.VersionNo > maxVersion {
				maxVersion = existing.VersionNo
			}
			if existing.IsActive {
				existing.IsActive = false
				displaced = append(displaced, existing.ID)
			}
		}
		sv := &ScheduleVersion{
			ID:                s.allocID(),
			PSIID:             psi.ID,
			VersionNo:         maxVersion + 1,
			IsActive:          true,
			PlannedStart:      pl.Start,
			PlannedEnd:        pl.End,
			PlannedQuantity:   pl.Quantity,
			RemainingQuantity: pl.Quantity,
			CreatedAt:         time.Now(),
		}
		s.svs[sv.ID] = sv
		activated = append(activated, sv.ID)
	}

	record.Predecessors = displaced
	record.Successors = activated
	cp := *record
	s.reschedules = append(s.reschedules, &cp)
	return activated, displaced, nil
}

func (s *MemoryStore) ListActiveScheduleVersions(ctx context.Context) ([]*ScheduleVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var list []*ScheduleVersion
	for _, sv := range s.svs {
		if sv.IsActive {
			cp := *sv
			list = append(list, &cp)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].PlannedStart.Before(list[j].PlannedStart) })
	return list, nil
}

func (s *MemoryStore) ListScheduleVersionsByPSI(ctx context.Context, psiID int64) ([]*ScheduleVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var list []*ScheduleVersion
	for _, sv := range s.svs {
		if sv.PSIID == psiID {
			cp := *sv
			list = append(list, &cp)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].VersionNo < list[j].VersionNo })
	return list, nil
}

// --- Production logs ---

func (s *MemoryStore) AppendProductionLog(ctx context.Context, pl *ProductionLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	pl.ID = s.allocID()
	cp := *pl
	s.prodLogs = append(s.prodLogs, &cp)
	return nil
}

func (s *MemoryStore) ListProductionLogs(ctx context.Context, from, to time.Time, partNumber string) ([]*ProductionLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var list []*ProductionLog
	for _, pl := range s.prodLogs {
		if pl.StartedAt.Before(from) || !pl.StartedAt.Before(to) {
			continue
		}
		if partNumber != "" {
			psi, ok := s.psis[pl.PSIID]
			if !ok {
				continue
			}
			order, ok := s.orders[psi.OrderID]
			if !ok || order.PartNumber != partNumber {
				continue
			}
		}
		cp := *pl
		list = append(list, &cp)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].StartedAt.Before(list[j].StartedAt) })
	return list, nil
}

func (s *MemoryStore) AddCompletedQuantity(ctx context.Context, svID int64, goodQty int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sv, ok := s.svs[svID]
	if !ok {
		return apperr.New(apperr.KindNotFound, "schedule version %d not found", svID)
	}
	sv.CompletedQuantity += goodQty
	sv.RemainingQuantity -= goodQty
	if sv.RemainingQuantity < 0 {
		sv.RemainingQuantity = 0
	}
	return nil
}

// --- Telemetry ---

func (s *MemoryStore) UpsertTelemetryLive(ctx context.Context, row *TelemetryRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *row
	s.telemetryLive[row.MachineID] = &cp
	return nil
}

func (s *MemoryStore) AppendTelemetryHistory(ctx context.Context, row *TelemetryRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *row
	s.telemetryHist = append(s.telemetryHist, &cp)
	return nil
}

func (s *MemoryStore) ListTelemetryLive(ctx context.Context) ([]*TelemetryRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := make([]*TelemetryRow, 0, len(s.telemetryLive))
	for _, row := range s.telemetryLive {
		cp := *row
		list = append(list, &cp)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].MachineID < list[j].MachineID })
	return list, nil
}

func (s *MemoryStore) TelemetryHistoryRange(ctx context.Context, machineID int64, from, to time.Time) ([]*TelemetryRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var list []*TelemetryRow
	for _, row := range s.telemetryHist {
		if row.MachineID == machineID && !row.Timestamp.Before(from) && !row.Timestamp.After(to) {
			cp := *row
			list = append(list, &cp)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Timestamp.Before(list[j].Timestamp) })
	return list, nil
}

func (s *MemoryStore) LatestTelemetryHistory(ctx context.Context, machineID int64) (*TelemetryRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *TelemetryRow
	for _, row := range s.telemetryHist {
		if row.MachineID != machineID {
			continue
		}
		if latest == nil || row.Timestamp.After(latest.Timestamp) {
			latest = row
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

// --- Shiftwise energy ---

func (s *MemoryStore) UpsertShiftwiseLive(ctx context.Context, e *ShiftwiseEnergy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	s.shiftLive[e.MachineID] = &cp
	return nil
}

func (s *MemoryStore) AppendShiftwiseHistory(ctx context.Context, e *ShiftwiseEnergy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	s.shiftHist = append(s.shiftHist, &cp)
	return nil
}

func (s *MemoryStore) ListShiftwiseLive(ctx context.Context) ([]*ShiftwiseEnergy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := make([]*ShiftwiseEnergy, 0, len(s.shiftLive))
	for _, e := range s.shiftLive {
		cp := *e
		list = append(list, &cp)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].MachineID < list[j].MachineID })
	return list, nil
}

// --- Reschedule audit ---

func (s *MemoryStore) AppendRescheduleRecord(ctx context.Context, r *RescheduleRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.reschedules = append(s.reschedules, &cp)
	return nil
}

func (s *MemoryStore) ListRescheduleRecords(ctx context.Context, limit int) ([]*RescheduleRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := make([]*RescheduleRecord, 0, len(s.reschedules))
	for _, r := range s.reschedules {
		cp := *r
		list = append(list, &cp)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Timestamp.After(list[j].Timestamp) })
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}
