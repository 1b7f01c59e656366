package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"

	"github.com/openstratus/stratus/pkg/orchestrator"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements orchestrator.Store using SQLite.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// Config holds SQLite store configuration.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	return &SQLiteStore{
		path: cfg.Path,
	}, nil
}

// Init initializes the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	// Immediate transactions make the admission check-and-insert a
	// single writer-serialized unit.
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	if s.path == ":memory:" {
		// Every pooled connection would otherwise see its own empty
		// in-memory database.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Ping verifies the database connection is healthy.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.db.PingContext(ctx)
}

// CreateServiceDeployment inserts a new service record.
func (s *SQLiteStore) CreateServiceDeployment(ctx context.Context, d *orchestrator.ServiceDeployment) error {
	query := `
		INSERT INTO service_deployments (
			id, owner_id, csp, region, category, flavor_name, service_template_id,
			deployment_state, service_state, destroy_locked, modify_locked,
			result_message, created_at, last_modified_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		d.ID.String(),
		d.OwnerID,
		string(d.Csp),
		d.Region,
		d.Category,
		d.FlavorName,
		d.ServiceTemplateID.String(),
		string(d.DeploymentState),
		string(d.ServiceState),
		boolToInt(d.LockConfig.DestroyLocked),
		boolToInt(d.LockConfig.ModifyLocked),
		d.ResultMessage,
		d.CreatedAt,
		d.LastModifiedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create service deployment: %w", err)
	}

	return nil
}

// GetServiceDeployment loads a service together with its resources.
func (s *SQLiteStore) GetServiceDeployment(ctx context.Context, id uuid.UUID) (*orchestrator.ServiceDeployment, error) {
	query := `
		SELECT id, owner_id, csp, region, category, flavor_name, service_template_id,
			   deployment_state, service_state, destroy_locked, modify_locked,
			   result_message, created_at, last_modified_at
		FROM service_deployments
		WHERE id = ?
	`

	d, err := s.scanDeployment(s.db.QueryRowContext(ctx, query, id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, orchestrator.NewServiceNotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get service deployment: %w", err)
	}

	resources, err := s.listResources(ctx, id)
	if err != nil {
		return nil, err
	}
	d.Resources = resources

	return d, nil
}

// UpdateServiceDeployment persists mutable service fields.
func (s *SQLiteStore) UpdateServiceDeployment(ctx context.Context, d *orchestrator.ServiceDeployment) error {
	query := `
		UPDATE service_deployments
		SET flavor_name = ?, deployment_state = ?, service_state = ?,
			destroy_locked = ?, modify_locked = ?, result_message = ?,
			last_modified_at = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		d.FlavorName,
		string(d.DeploymentState),
		string(d.ServiceState),
		boolToInt(d.LockConfig.DestroyLocked),
		boolToInt(d.LockConfig.ModifyLocked),
		d.ResultMessage,
		time.Now().UTC(),
		d.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update service deployment: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return orchestrator.NewServiceNotFound(d.ID)
	}

	return nil
}

// DeleteServiceDeployment removes the service record; resources cascade.
func (s *SQLiteStore) DeleteServiceDeployment(ctx context.Context, id uuid.UUID) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM service_deployments WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("failed to delete service deployment: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return orchestrator.NewServiceNotFound(id)
	}

	return nil
}

// ListServiceDeployments returns all services owned by a user.
func (s *SQLiteStore) ListServiceDeployments(ctx context.Context, ownerID string) ([]*orchestrator.ServiceDeployment, error) {
	query := `
		SELECT id, owner_id, csp, region, category, flavor_name, service_template_id,
			   deployment_state, service_state, destroy_locked, modify_locked,
			   result_message, created_at, last_modified_at
		FROM service_deployments
		WHERE owner_id = ?
		ORDER BY created_at ASC
	`

	rows, err := s.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list service deployments: %w", err)
	}
	defer rows.Close()

	deployments := []*orchestrator.ServiceDeployment{}
	for rows.Next() {
		d, err := s.scanDeployment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan service deployment: %w", err)
		}
		deployments = append(deployments, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating service deployments: %w", err)
	}

	return deployments, nil
}

// AdmitOrder inserts the order inside one transaction that also checks
// the single-in-flight-order invariant.
func (s *SQLiteStore) AdmitOrder(ctx context.Context, o *orchestrator.Order) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin admission transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var inFlight int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM service_orders WHERE service_id = ? AND status IN ('CREATED', 'IN_PROGRESS')`,
		o.ServiceID.String(),
	).Scan(&inFlight)
	if err != nil {
		return fmt.Errorf("failed to check in-flight orders: %w", err)
	}
	if inFlight > 0 {
		return orchestrator.NewInvalidState(o.ServiceID,
			"another order is already in flight for this service")
	}

	var workflowID any
	if o.WorkflowID != nil {
		workflowID = o.WorkflowID.String()
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO service_orders (
			id, service_id, owner_id, type, status, workflow_id,
			request_snapshot, result_message, created_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)
	`,
		o.ID.String(),
		o.ServiceID.String(),
		o.OwnerID,
		string(o.Type),
		string(o.Status),
		workflowID,
		o.RequestSnapshot,
		o.ResultMessage,
		o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit order admission: %w", err)
	}

	return nil
}

// GetOrder loads one order by id.
func (s *SQLiteStore) GetOrder(ctx context.Context, id uuid.UUID) (*orchestrator.Order, error) {
	o, err := s.scanOrder(s.db.QueryRowContext(ctx, orderSelect+` WHERE id = ?`, id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, orchestrator.NewOrderNotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return o, nil
}

// GetInFlightOrder returns the single active order of a service.
func (s *SQLiteStore) GetInFlightOrder(ctx context.Context, serviceID uuid.UUID) (*orchestrator.Order, error) {
	o, err := s.scanOrder(s.db.QueryRowContext(ctx,
		orderSelect+` WHERE service_id = ? AND status IN ('CREATED', 'IN_PROGRESS')`,
		serviceID.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, orchestrator.NewOrderNotFound(uuid.Nil).WithService(serviceID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get in-flight order: %w", err)
	}
	return o, nil
}

// ListOrdersByService returns all orders of a service, oldest first.
func (s *SQLiteStore) ListOrdersByService(ctx context.Context, serviceID uuid.UUID) ([]*orchestrator.Order, error) {
	return s.listOrders(ctx, orderSelect+` WHERE service_id = ? ORDER BY created_at ASC`, serviceID.String())
}

// ListOrdersByWorkflow returns workflow member orders in creation order.
func (s *SQLiteStore) ListOrdersByWorkflow(ctx context.Context, workflowID uuid.UUID) ([]*orchestrator.Order, error) {
	return s.listOrders(ctx, orderSelect+` WHERE workflow_id = ? ORDER BY created_at ASC`, workflowID.String())
}

// MarkOrderInProgress moves a CREATED order to IN_PROGRESS.
func (s *SQLiteStore) MarkOrderInProgress(ctx context.Context, orderID uuid.UUID) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE service_orders SET status = 'IN_PROGRESS' WHERE id = ? AND status = 'CREATED'`,
		orderID.String())
	if err != nil {
		return fmt.Errorf("failed to mark order in progress: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return orchestrator.NewOrderNotFound(orderID)
	}

	return nil
}

// CompleteOrder applies the terminal status once. Returns false when
// the order was already terminal.
func (s *SQLiteStore) CompleteOrder(ctx context.Context, orderID uuid.UUID, status orchestrator.OrderStatus, resultMessage string) (bool, error) {
	applied, err := completeOrderExec(ctx, s.db, orderID, status, resultMessage)
	if err != nil {
		return false, err
	}
	if !applied {
		// Distinguish "already terminal" from "missing".
		var exists int
		err := s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM service_orders WHERE id = ?`, orderID.String()).Scan(&exists)
		if err != nil {
			return false, fmt.Errorf("failed to check order existence: %w", err)
		}
		if exists == 0 {
			return false, orchestrator.NewOrderNotFound(orderID)
		}
	}
	return applied, nil
}

// execer covers *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func completeOrderExec(ctx context.Context, db execer, orderID uuid.UUID, status orchestrator.OrderStatus, resultMessage string) (bool, error) {
	result, err := db.ExecContext(ctx, `
		UPDATE service_orders
		SET status = ?, result_message = ?, completed_at = ?
		WHERE id = ? AND status IN ('CREATED', 'IN_PROGRESS')
	`,
		string(status), resultMessage, time.Now().UTC(), orderID.String())
	if err != nil {
		return false, fmt.Errorf("failed to complete order: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows > 0, nil
}

// TagOrderWorkflow stamps an existing order with a workflow id.
func (s *SQLiteStore) TagOrderWorkflow(ctx context.Context, orderID, workflowID uuid.UUID) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE service_orders SET workflow_id = ? WHERE id = ?`,
		workflowID.String(), orderID.String())
	if err != nil {
		return fmt.Errorf("failed to tag order workflow: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return orchestrator.NewOrderNotFound(orderID)
	}

	return nil
}

// DeleteOrder removes a single order record.
func (s *SQLiteStore) DeleteOrder(ctx context.Context, orderID uuid.UUID) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM service_orders WHERE id = ?`, orderID.String())
	if err != nil {
		return fmt.Errorf("failed to delete order: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return orchestrator.NewOrderNotFound(orderID)
	}

	return nil
}

// DeleteOrdersByService removes all order records of a service.
func (s *SQLiteStore) DeleteOrdersByService(ctx context.Context, serviceID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM service_orders WHERE service_id = ?`, serviceID.String())
	if err != nil {
		return fmt.Errorf("failed to delete orders: %w", err)
	}
	return nil
}

// CreateWorkflow inserts a workflow record.
func (s *SQLiteStore) CreateWorkflow(ctx context.Context, w *orchestrator.Workflow) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workflows (id, type, status, original_service_id, new_service_id, owner_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		w.ID.String(),
		string(w.Type),
		string(w.Status),
		w.OriginalServiceID.String(),
		w.NewServiceID.String(),
		w.OwnerID,
		w.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create workflow: %w", err)
	}
	return nil
}

// GetWorkflow loads one workflow.
func (s *SQLiteStore) GetWorkflow(ctx context.Context, id uuid.UUID) (*orchestrator.Workflow, error) {
	query := `
		SELECT id, type, status, original_service_id, new_service_id, owner_id, created_at
		FROM workflows
		WHERE id = ?
	`

	var (
		w                         orchestrator.Workflow
		idStr, origStr, newStr    string
		typeStr, statusStr, owner string
	)
	err := s.db.QueryRowContext(ctx, query, id.String()).Scan(
		&idStr, &typeStr, &statusStr, &origStr, &newStr, &owner, &w.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, orchestrator.NewOrderNotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workflow: %w", err)
	}

	w.ID = uuid.MustParse(idStr)
	w.Type = orchestrator.WorkflowType(typeStr)
	w.Status = orchestrator.WorkflowStatus(statusStr)
	w.OriginalServiceID = uuid.MustParse(origStr)
	if newStr != "" {
		w.NewServiceID = uuid.MustParse(newStr)
	}
	w.OwnerID = owner

	return &w, nil
}

// UpdateWorkflowStatus advances the aggregate workflow status.
func (s *SQLiteStore) UpdateWorkflowStatus(ctx context.Context, id uuid.UUID, status orchestrator.WorkflowStatus) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE workflows SET status = ? WHERE id = ?`,
		string(status), id.String())
	if err != nil {
		return fmt.Errorf("failed to update workflow status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return orchestrator.NewOrderNotFound(id)
	}

	return nil
}

// UpdateWorkflowNewService records the replacement service of a
// migrate/port workflow.
func (s *SQLiteStore) UpdateWorkflowNewService(ctx context.Context, id, newServiceID uuid.UUID) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE workflows SET new_service_id = ? WHERE id = ?`,
		newServiceID.String(), id.String())
	if err != nil {
		return fmt.Errorf("failed to update workflow service: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return orchestrator.NewOrderNotFound(id)
	}

	return nil
}

// ApplyDeploymentResult finalizes a callback in one transaction so that
// resource inventory and deployment state change atomically with order
// completion. Returns false when the order was already terminal.
func (s *SQLiteStore) ApplyDeploymentResult(ctx context.Context, res *orchestrator.DeploymentResult) (bool, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return false, fmt.Errorf("failed to begin result transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	applied, err := completeOrderExec(ctx, tx, res.OrderID, res.OrderStatus, res.ResultMessage)
	if err != nil {
		return false, err
	}
	if !applied {
		return false, nil
	}

	if res.RemoveRecord {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM service_deployments WHERE id = ?`, res.ServiceID.String()); err != nil {
			return false, fmt.Errorf("failed to remove service record: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return false, fmt.Errorf("failed to commit result: %w", err)
		}
		return true, nil
	}

	if res.ReplaceResources {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM deploy_resources WHERE service_id = ?`, res.ServiceID.String()); err != nil {
			return false, fmt.Errorf("failed to clear resources: %w", err)
		}
		for i := range res.Resources {
			r := &res.Resources[i]
			props, err := json.Marshal(r.Properties)
			if err != nil {
				return false, fmt.Errorf("failed to encode resource properties: %w", err)
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO deploy_resources (
					id, service_id, resource_id, resource_name, resource_kind,
					group_name, group_type, properties
				) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			`,
				r.ID.String(),
				res.ServiceID.String(),
				r.ResourceID,
				r.ResourceName,
				string(r.ResourceKind),
				r.GroupName,
				r.GroupType,
				string(props),
			); err != nil {
				return false, fmt.Errorf("failed to insert resource: %w", err)
			}
		}
	}

	query := `
		UPDATE service_deployments
		SET deployment_state = ?, result_message = ?, last_modified_at = ?
		WHERE id = ?
	`
	args := []any{string(res.DeploymentState), res.ResultMessage, time.Now().UTC(), res.ServiceID.String()}
	if res.ServiceState != "" {
		query = `
			UPDATE service_deployments
			SET deployment_state = ?, service_state = ?, result_message = ?, last_modified_at = ?
			WHERE id = ?
		`
		args = []any{string(res.DeploymentState), string(res.ServiceState), res.ResultMessage, time.Now().UTC(), res.ServiceID.String()}
	}

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return false, fmt.Errorf("failed to update deployment state: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit result: %w", err)
	}

	return true, nil
}

// CreateConfigRequests inserts the per-group fan-out of a CONFIGURE order.
func (s *SQLiteStore) CreateConfigRequests(ctx context.Context, reqs []orchestrator.ServiceConfigurationUpdateRequest) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for i := range reqs {
		r := &reqs[i]
		props, err := json.Marshal(r.Properties)
		if err != nil {
			return fmt.Errorf("failed to encode request properties: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO service_config_requests (
				id, order_id, service_id, group_name, properties, status,
				result_message, created_at, completed_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL)
		`,
			r.ID.String(),
			r.OrderID.String(),
			r.ServiceID.String(),
			r.GroupName,
			string(props),
			string(r.Status),
			r.ResultMessage,
			r.CreatedAt,
		); err != nil {
			return fmt.Errorf("failed to insert config request: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit config requests: %w", err)
	}

	return nil
}

// ListConfigRequestsByOrder returns the fan-out rows of an order.
func (s *SQLiteStore) ListConfigRequestsByOrder(ctx context.Context, orderID uuid.UUID) ([]*orchestrator.ServiceConfigurationUpdateRequest, error) {
	query := `
		SELECT id, order_id, service_id, group_name, properties, status,
			   result_message, created_at, completed_at
		FROM service_config_requests
		WHERE order_id = ?
		ORDER BY group_name ASC
	`

	rows, err := s.db.QueryContext(ctx, query, orderID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list config requests: %w", err)
	}
	defer rows.Close()

	reqs := []*orchestrator.ServiceConfigurationUpdateRequest{}
	for rows.Next() {
		var (
			r                        orchestrator.ServiceConfigurationUpdateRequest
			idStr, orderStr, svcStr  string
			propsStr, statusStr      string
		)
		err := rows.Scan(&idStr, &orderStr, &svcStr, &r.GroupName, &propsStr,
			&statusStr, &r.ResultMessage, &r.CreatedAt, &r.CompletedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan config request: %w", err)
		}
		r.ID = uuid.MustParse(idStr)
		r.OrderID = uuid.MustParse(orderStr)
		r.ServiceID = uuid.MustParse(svcStr)
		r.Status = orchestrator.ConfigRequestStatus(statusStr)
		if err := json.Unmarshal([]byte(propsStr), &r.Properties); err != nil {
			return nil, fmt.Errorf("failed to decode request properties: %w", err)
		}
		reqs = append(reqs, &r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating config requests: %w", err)
	}

	return reqs, nil
}

// CompleteConfigRequest applies the terminal status of one group request.
func (s *SQLiteStore) CompleteConfigRequest(ctx context.Context, id uuid.UUID, status orchestrator.ConfigRequestStatus, resultMessage string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE service_config_requests
		SET status = ?, result_message = ?, completed_at = ?
		WHERE id = ? AND status = 'PENDING'
	`,
		string(status), resultMessage, time.Now().UTC(), id.String())
	if err != nil {
		return fmt.Errorf("failed to complete config request: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return orchestrator.NewOrderNotFound(id)
	}

	return nil
}

const orderSelect = `
	SELECT id, service_id, owner_id, type, status, workflow_id,
		   request_snapshot, result_message, created_at, completed_at
	FROM service_orders`

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func (s *SQLiteStore) scanOrder(row rowScanner) (*orchestrator.Order, error) {
	var (
		o                 orchestrator.Order
		idStr, svcStr     string
		typeStr, statStr  string
		workflowStr       sql.NullString
	)
	err := row.Scan(&idStr, &svcStr, &o.OwnerID, &typeStr, &statStr,
		&workflowStr, &o.RequestSnapshot, &o.ResultMessage, &o.CreatedAt, &o.CompletedAt)
	if err != nil {
		return nil, err
	}

	o.ID = uuid.MustParse(idStr)
	o.ServiceID = uuid.MustParse(svcStr)
	o.Type = orchestrator.OrderType(typeStr)
	o.Status = orchestrator.OrderStatus(statStr)
	if workflowStr.Valid {
		wid := uuid.MustParse(workflowStr.String)
		o.WorkflowID = &wid
	}

	return &o, nil
}

func (s *SQLiteStore) listOrders(ctx context.Context, query string, args ...any) ([]*orchestrator.Order, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	defer rows.Close()

	orders := []*orchestrator.Order{}
	for rows.Next() {
		o, err := s.scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating orders: %w", err)
	}

	return orders, nil
}

func (s *SQLiteStore) scanDeployment(row rowScanner) (*orchestrator.ServiceDeployment, error) {
	var (
		d                          orchestrator.ServiceDeployment
		idStr, cspStr, tmplStr     string
		depStr, svcStr             string
		destroyLocked, modifyLocked int
	)
	err := row.Scan(&idStr, &d.OwnerID, &cspStr, &d.Region, &d.Category,
		&d.FlavorName, &tmplStr, &depStr, &svcStr, &destroyLocked,
		&modifyLocked, &d.ResultMessage, &d.CreatedAt, &d.LastModifiedAt)
	if err != nil {
		return nil, err
	}

	d.ID = uuid.MustParse(idStr)
	d.Csp = orchestrator.Csp(cspStr)
	d.ServiceTemplateID = uuid.MustParse(tmplStr)
	d.DeploymentState = orchestrator.DeploymentState(depStr)
	d.ServiceState = orchestrator.ServiceState(svcStr)
	d.LockConfig.DestroyLocked = destroyLocked != 0
	d.LockConfig.ModifyLocked = modifyLocked != 0

	return &d, nil
}

func (s *SQLiteStore) listResources(ctx context.Context, serviceID uuid.UUID) ([]orchestrator.DeployResource, error) {
	query := `
		SELECT id, service_id, resource_id, resource_name, resource_kind,
			   group_name, group_type, properties
		FROM deploy_resources
		WHERE service_id = ?
		ORDER BY group_name ASC, resource_id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, serviceID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list resources: %w", err)
	}
	defer rows.Close()

	var resources []orchestrator.DeployResource
	for rows.Next() {
		var (
			r              orchestrator.DeployResource
			idStr, svcStr  string
			kindStr, props string
		)
		err := rows.Scan(&idStr, &svcStr, &r.ResourceID, &r.ResourceName,
			&kindStr, &r.GroupName, &r.GroupType, &props)
		if err != nil {
			return nil, fmt.Errorf("failed to scan resource: %w", err)
		}
		r.ID = uuid.MustParse(idStr)
		r.ServiceID = uuid.MustParse(svcStr)
		r.ResourceKind = orchestrator.ResourceKind(kindStr)
		if err := json.Unmarshal([]byte(props), &r.Properties); err != nil {
			return nil, fmt.Errorf("failed to decode resource properties: %w", err)
		}
		resources = append(resources, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating resources: %w", err)
	}

	return resources, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
