package core

import (
	"context"
	"fmt"
	"sync"

	"agentregistry/internal/blob"
	"agentregistry/internal/infra/persistence/memory"
	"agentregistry/pkg/domain"
)

// Service is the registry call surface. Every mutation checks registration,
// then field bounds, then applies the store mutation inside one transaction.
type Service struct {
	store   PersistentStore
	blobs   blob.Store
	limits  Limits
	logger  Logger
	clock   Clock
	metrics MetricsRecorder
	tracer  Tracer
	audit   AuditRecorder
	events  EventSink

	// publishMu spans the transaction and sink call of each mutation.
	publishMu sync.Mutex
}

// Option customises a Service.
type Option func(*Service)

// WithLogger sets the service logger. A nil logger keeps the default no-op.
func WithLogger(logger Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the time source.
func WithClock(clock Clock) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithMetricsRecorder installs a metrics recorder.
func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(s *Service) {
		if recorder != nil {
			s.metrics = recorder
		}
	}
}

// WithTracer installs a tracer.
func WithTracer(tracer Tracer) Option {
	return func(s *Service) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// WithAuditRecorder installs an audit recorder.
func WithAuditRecorder(recorder AuditRecorder) Option {
	return func(s *Service) {
		if recorder != nil {
			s.audit = recorder
		}
	}
}

// WithEventSink forwards committed events to sink. Publish is called
// synchronously and must not call back into the Service.
func WithEventSink(sink EventSink) Option {
	return func(s *Service) {
		s.events = sink
	}
}

// WithLimits sets the field bounds enforced on every write.
func WithLimits(limits Limits) Option {
	return func(s *Service) {
		s.limits = limits
	}
}

// WithBlobStore sets the image store.
func WithBlobStore(store blob.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.blobs = store
		}
	}
}

// NewService constructs a service backed by the supplied store.
func NewService(store PersistentStore, opts ...Option) *Service {
	s := &Service{
		store:   store,
		limits:  domain.DefaultLimits,
		logger:  noopLogger{},
		clock:   systemClock{},
		metrics: noopMetrics{},
		tracer:  noopTracer{},
		audit:   noopAudit{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.blobs == nil {
		s.blobs = blob.NewMemory()
	}
	return s
}

// NewInMemoryService creates a service over a fresh in-memory store.
func NewInMemoryService(engine *RulesEngine, opts ...Option) *Service {
	return NewService(memory.NewStore(engine), opts...)
}

// Store returns the underlying storage implementation.
func (s *Service) Store() PersistentStore {
	return s.store
}

// Limits returns the configured field bounds.
func (s *Service) Limits() Limits {
	return s.limits
}

// call carries the audit attributes of one mutating call.
type call struct {
	op     string
	entity EntityType
	action Action
	by     Principal
	id     uint32
}

func (s *Service) run(ctx context.Context, c *call, fn func(Transaction) error) (Result, error) {
	if s.events != nil {
		s.publishMu.Lock()
		defer s.publishMu.Unlock()
	}
	ctx, span := s.tracer.Start(ctx, c.op)
	start := s.clock.Now()
	res, err := s.store.RunInTransaction(ctx, fn)
	end := s.clock.Now()
	duration := end.Sub(start)
	span.End(err)
	s.metrics.Observe(ctx, c.op, err == nil, duration)

	entry := AuditEntry{
		Operation: c.op,
		Entity:    c.entity,
		Action:    c.action,
		EntityID:  c.id,
		Principal: c.by,
		Status:    AuditStatusSuccess,
		Duration:  duration,
		Timestamp: end,
	}
	if err != nil {
		entry.Status = AuditStatusError
		entry.Error = err.Error()
		s.audit.Record(ctx, entry)
		s.logger.Warn("registry call rejected", "operation", c.op, "principal", c.by.Hex(), "error", err)
		return res, err
	}
	s.audit.Record(ctx, entry)
	s.logger.Debug("registry call committed", "operation", c.op, "principal", c.by.Hex(), "id", c.id, "duration", duration)
	for _, v := range res.Violations {
		s.logger.Info("rule violation", "operation", c.op, "rule", v.Rule, "severity", v.Severity, "message", v.Message)
	}
	if s.events != nil && len(res.Events) > 0 {
		s.events.Publish(ctx, res.Events)
	}
	return res, nil
}

func authorize(tx Transaction, by Principal) error {
	if !tx.IsRegistered(by) {
		return fmt.Errorf("%w: %s", domain.ErrNotRegistered, by.Hex())
	}
	return nil
}

// Register records the caller as a registered agent.
func (s *Service) Register(ctx context.Context, by Principal) (Result, error) {
	c := &call{op: "register", entity: EntityAgent, action: ActionRegister, by: by}
	return s.run(ctx, c, func(tx Transaction) error {
		return tx.Register(by)
	})
}

// IsRegistered reports whether p has registered.
func (s *Service) IsRegistered(ctx context.Context, p Principal) (bool, error) {
	var registered bool
	err := s.store.View(ctx, func(v TransactionView) error {
		registered = v.IsRegistered(p)
		return nil
	})
	return registered, err
}

// ListAgents returns every registered principal in address order.
func (s *Service) ListAgents(ctx context.Context) ([]Principal, error) {
	var agents []Principal
	err := s.store.View(ctx, func(v TransactionView) error {
		agents = v.ListAgents()
		return nil
	})
	return agents, err
}

// NextID peeks at the identifier the next create of entity would receive.
func (s *Service) NextID(ctx context.Context, entity EntityType) (uint32, error) {
	var id uint32
	err := s.store.View(ctx, func(v TransactionView) error {
		var err error
		id, err = v.NextID(entity)
		return err
	})
	return id, err
}

func createRecord[R domain.Record[R]](ctx context.Context, s *Service, by Principal, rec R, create func(Transaction, Principal, R) (uint32, error)) (uint32, Result, error) {
	entity := rec.EntityType()
	c := &call{op: "create_" + string(entity), entity: entity, action: ActionCreate, by: by}
	res, err := s.run(ctx, c, func(tx Transaction) error {
		if err := authorize(tx, by); err != nil {
			return err
		}
		if err := rec.CheckBounds(s.limits); err != nil {
			return err
		}
		id, err := create(tx, by, rec)
		if err != nil {
			return err
		}
		c.id = id
		return nil
	})
	if err != nil {
		return 0, res, err
	}
	return c.id, res, nil
}

func updateRecord[R domain.Record[R]](ctx context.Context, s *Service, by Principal, id uint32, rec R, update func(Transaction, Principal, uint32, R) error) (Result, error) {
	entity := rec.EntityType()
	c := &call{op: "update_" + string(entity), entity: entity, action: ActionUpdate, by: by, id: id}
	return s.run(ctx, c, func(tx Transaction) error {
		if err := authorize(tx, by); err != nil {
			return err
		}
		if err := rec.CheckBounds(s.limits); err != nil {
			return err
		}
		return update(tx, by, id, rec)
	})
}

func deleteRecord(ctx context.Context, s *Service, entity EntityType, by Principal, id uint32, remove func(Transaction, Principal, uint32) error) (Result, error) {
	c := &call{op: "delete_" + string(entity), entity: entity, action: ActionDelete, by: by, id: id}
	return s.run(ctx, c, func(tx Transaction) error {
		if err := authorize(tx, by); err != nil {
			return err
		}
		return remove(tx, by, id)
	})
}

func getRecord[R any](ctx context.Context, s *Service, id uint32, find func(TransactionView, uint32) (R, bool)) (R, bool, error) {
	var (
		rec R
		ok  bool
	)
	err := s.store.View(ctx, func(v TransactionView) error {
		rec, ok = find(v, id)
		return nil
	})
	return rec, ok, err
}

func listRecords[R any](ctx context.Context, s *Service, list func(TransactionView) []domain.Keyed[R]) ([]domain.Keyed[R], error) {
	var out []domain.Keyed[R]
	err := s.store.View(ctx, func(v TransactionView) error {
		out = list(v)
		return nil
	})
	return out, err
}

// CreateUnit stores a new unit under the next unit id.
func (s *Service) CreateUnit(ctx context.Context, by Principal, unit Unit) (uint32, Result, error) {
	return createRecord(ctx, s, by, unit, Transaction.CreateUnit)
}

// UpdateUnit writes unit at id, inserting it when absent.
func (s *Service) UpdateUnit(ctx context.Context, by Principal, id uint32, unit Unit) (Result, error) {
	return updateRecord(ctx, s, by, id, unit, Transaction.UpdateUnit)
}

// DeleteUnit removes the unit at id if present.
func (s *Service) DeleteUnit(ctx context.Context, by Principal, id uint32) (Result, error) {
	return deleteRecord(ctx, s, EntityUnit, by, id, Transaction.DeleteUnit)
}

// GetUnit returns the unit at id.
func (s *Service) GetUnit(ctx context.Context, id uint32) (Unit, bool, error) {
	return getRecord(ctx, s, id, TransactionView.FindUnit)
}

// ListUnits returns all units ordered by id.
func (s *Service) ListUnits(ctx context.Context) ([]domain.Keyed[Unit], error) {
	return listRecords(ctx, s, TransactionView.ListUnits)
}

// CreateSpatialThing stores a new spatial thing.
func (s *Service) CreateSpatialThing(ctx context.Context, by Principal, thing SpatialThing) (uint32, Result, error) {
	return createRecord(ctx, s, by, thing, Transaction.CreateSpatialThing)
}

// UpdateSpatialThing writes thing at id, inserting it when absent.
func (s *Service) UpdateSpatialThing(ctx context.Context, by Principal, id uint32, thing SpatialThing) (Result, error) {
	return updateRecord(ctx, s, by, id, thing, Transaction.UpdateSpatialThing)
}

// DeleteSpatialThing removes the spatial thing at id if present.
func (s *Service) DeleteSpatialThing(ctx context.Context, by Principal, id uint32) (Result, error) {
	return deleteRecord(ctx, s, EntitySpatialThing, by, id, Transaction.DeleteSpatialThing)
}

// GetSpatialThing returns the spatial thing at id.
func (s *Service) GetSpatialThing(ctx context.Context, id uint32) (SpatialThing, bool, error) {
	return getRecord(ctx, s, id, TransactionView.FindSpatialThing)
}

// ListSpatialThings returns all spatial things ordered by id.
func (s *Service) ListSpatialThings(ctx context.Context) ([]domain.Keyed[SpatialThing], error) {
	return listRecords(ctx, s, TransactionView.ListSpatialThings)
}

// CreateProcessSpecification stores a new process specification.
func (s *Service) CreateProcessSpecification(ctx context.Context, by Principal, spec ProcessSpecification) (uint32, Result, error) {
	return createRecord(ctx, s, by, spec, Transaction.CreateProcessSpecification)
}

// UpdateProcessSpecification writes spec at id, inserting it when absent.
func (s *Service) UpdateProcessSpecification(ctx context.Context, by Principal, id uint32, spec ProcessSpecification) (Result, error) {
	return updateRecord(ctx, s, by, id, spec, Transaction.UpdateProcessSpecification)
}

// DeleteProcessSpecification removes the process specification at id if present.
func (s *Service) DeleteProcessSpecification(ctx context.Context, by Principal, id uint32) (Result, error) {
	return deleteRecord(ctx, s, EntityProcessSpecification, by, id, Transaction.DeleteProcessSpecification)
}

// GetProcessSpecification returns the process specification at id.
func (s *Service) GetProcessSpecification(ctx context.Context, id uint32) (ProcessSpecification, bool, error) {
	return getRecord(ctx, s, id, TransactionView.FindProcessSpecification)
}

// ListProcessSpecifications returns all process specifications ordered by id.
func (s *Service) ListProcessSpecifications(ctx context.Context) ([]domain.Keyed[ProcessSpecification], error) {
	return listRecords(ctx, s, TransactionView.ListProcessSpecifications)
}

// CreateResourceSpecification stores a new resource specification. Unit
// references are stored as given.
func (s *Service) CreateResourceSpecification(ctx context.Context, by Principal, spec ResourceSpecification) (uint32, Result, error) {
	return createRecord(ctx, s, by, spec, Transaction.CreateResourceSpecification)
}

// UpdateResourceSpecification writes spec at id, inserting it when absent.
func (s *Service) UpdateResourceSpecification(ctx context.Context, by Principal, id uint32, spec ResourceSpecification) (Result, error) {
	return updateRecord(ctx, s, by, id, spec, Transaction.UpdateResourceSpecification)
}

// DeleteResourceSpecification removes the resource specification at id if present.
func (s *Service) DeleteResourceSpecification(ctx context.Context, by Principal, id uint32) (Result, error) {
	return deleteRecord(ctx, s, EntityResourceSpecification, by, id, Transaction.DeleteResourceSpecification)
}

// GetResourceSpecification returns the resource specification at id.
func (s *Service) GetResourceSpecification(ctx context.Context, id uint32) (ResourceSpecification, bool, error) {
	return getRecord(ctx, s, id, TransactionView.FindResourceSpecification)
}

// ListResourceSpecifications returns all resource specifications ordered by id.
func (s *Service) ListResourceSpecifications(ctx context.Context) ([]domain.Keyed[ResourceSpecification], error) {
	return listRecords(ctx, s, TransactionView.ListResourceSpecifications)
}
