package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"zonedispatch/internal/geo"
	"zonedispatch/internal/model"
)

type Postgres struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

// MigrateDir applies every .sql file in dir in lexical order. Migrations are
// written to be re-runnable (CREATE TABLE IF NOT EXISTS).
func (p *Postgres) MigrateDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil { return err }
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") { names = append(names, e.Name()) }
	}
	sort.Strings(names)
	for _, name := range names {
		b, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil { return err }
		if _, err := p.db.Exec(string(b)); err != nil {
			return fmt.Errorf("migrate %s: %w", name, err)
		}
	}
	return nil
}

// Service areas: one row per (tenant, location) holding the whole snapshot
// as JSONB. The snapshot is always replaced as a unit; version increments
// on every replace.

func (p *Postgres) GetServiceArea(ctx context.Context, tenantID, locationID string) (model.ServiceArea, error) {
	sa := model.ServiceArea{LocationID: locationID}
	var zonesJS []byte
	err := p.db.QueryRowContext(ctx, `SELECT version, zones FROM service_areas WHERE tenant_id=$1 AND location_id=$2`, tenantID, locationID).Scan(&sa.Version, &zonesJS)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) { return sa, nil }
		return sa, err
	}
	if err := json.Unmarshal(zonesJS, &sa.Zones); err != nil { return sa, err }
	return sa, nil
}

func (p *Postgres) ReplaceServiceArea(ctx context.Context, tenantID, locationID string, zones []model.Zone) (model.ServiceArea, model.ServiceArea, error) {
	old := model.ServiceArea{LocationID: locationID}
	cur := model.ServiceArea{LocationID: locationID, Zones: zones}
	zonesJS, err := json.Marshal(zones)
	if err != nil { return old, cur, err }
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil { return old, cur, err }
	defer func() { _ = tx.Rollback() }()
	var oldJS []byte
	err = tx.QueryRowContext(ctx, `SELECT version, zones FROM service_areas WHERE tenant_id=$1 AND location_id=$2 FOR UPDATE`, tenantID, locationID).Scan(&old.Version, &oldJS)
	if err != nil && !errors.Is(err, sql.ErrNoRows) { return old, cur, err }
	if len(oldJS) > 0 {
		if err := json.Unmarshal(oldJS, &old.Zones); err != nil { return old, cur, err }
	}
	cur.Version = old.Version + 1
	_, err = tx.ExecContext(ctx, `INSERT INTO service_areas (tenant_id, location_id, version, zones, updated_at)
		VALUES ($1,$2,$3,$4,now())
		ON CONFLICT (tenant_id, location_id) DO UPDATE SET version=$3, zones=$4, updated_at=now()`,
		tenantID, locationID, cur.Version, zonesJS)
	if err != nil { return old, cur, err }
	if err := tx.Commit(); err != nil { return old, cur, err }
	return old, cur, nil
}

func (p *Postgres) CreateOverride(ctx context.Context, tenantID, locationID string, in model.OverrideInput) (model.ZoneOverride, error) {
	ov := model.ZoneOverride{
		ID: uuid.New().String(), TenantID: tenantID, LocationID: locationID,
		ZoneFeatureID: in.ZoneFeatureID, DriverID: in.DriverID,
		StartDate: in.StartDate, EndDate: in.EndDate, Reason: in.Reason,
	}
	var created time.Time
	err := p.db.QueryRowContext(ctx, `INSERT INTO zone_overrides (id, tenant_id, location_id, zone_feature_id, driver_id, start_date, end_date, reason)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING created_at`,
		ov.ID, tenantID, locationID, in.ZoneFeatureID, in.DriverID, in.StartDate, in.EndDate, nullIfEmpty(in.Reason)).Scan(&created)
	if err != nil { return model.ZoneOverride{}, err }
	ov.CreatedAt = created.UTC().Format(time.RFC3339)
	return ov, nil
}

func (p *Postgres) GetOverride(ctx context.Context, tenantID, id string) (model.ZoneOverride, error) {
	var ov model.ZoneOverride
	var reason sql.NullString
	var created time.Time
	err := p.db.QueryRowContext(ctx, `SELECT id::text, location_id, zone_feature_id, driver_id, to_char(start_date,'YYYY-MM-DD'), to_char(end_date,'YYYY-MM-DD'), reason, created_at
		FROM zone_overrides WHERE tenant_id=$1 AND id=$2`, tenantID, id).
		Scan(&ov.ID, &ov.LocationID, &ov.ZoneFeatureID, &ov.DriverID, &ov.StartDate, &ov.EndDate, &reason, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) { return ov, ErrNotFound }
		return ov, err
	}
	ov.TenantID = tenantID
	ov.Reason = reason.String
	ov.CreatedAt = created.UTC().Format(time.RFC3339)
	return ov, nil
}

func (p *Postgres) DeleteOverride(ctx context.Context, tenantID, id string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM zone_overrides WHERE tenant_id=$1 AND id=$2`, tenantID, id)
	if err != nil { return err }
	if n, _ := res.RowsAffected(); n == 0 { return ErrNotFound }
	return nil
}

func (p *Postgres) ListOverrides(ctx context.Context, tenantID, locationID string) ([]model.ZoneOverride, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id::text, zone_feature_id, driver_id, to_char(start_date,'YYYY-MM-DD'), to_char(end_date,'YYYY-MM-DD'), reason, created_at
		FROM zone_overrides WHERE tenant_id=$1 AND location_id=$2 ORDER BY created_at, id`, tenantID, locationID)
	if err != nil { return nil, err }
	defer rows.Close()
	out := []model.ZoneOverride{}
	for rows.Next() {
		ov := model.ZoneOverride{TenantID: tenantID, LocationID: locationID}
		var reason sql.NullString
		var created time.Time
		if err := rows.Scan(&ov.ID, &ov.ZoneFeatureID, &ov.DriverID, &ov.StartDate, &ov.EndDate, &reason, &created); err != nil { return nil, err }
		ov.Reason = reason.String
		ov.CreatedAt = created.UTC().Format(time.RFC3339)
		out = append(out, ov)
	}
	return out, rows.Err()
}

func (p *Postgres) FindOverrideDriver(ctx context.Context, tenantID, locationID, zoneFeatureID, date string) (string, bool, error) {
	// Last configured wins: creation order, not interval precedence.
	var driverID string
	err := p.db.QueryRowContext(ctx, `SELECT driver_id FROM zone_overrides
		WHERE tenant_id=$1 AND location_id=$2 AND zone_feature_id=$3 AND start_date <= $4::date AND end_date >= $4::date
		ORDER BY created_at DESC, id DESC LIMIT 1`, tenantID, locationID, zoneFeatureID, date).Scan(&driverID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) { return "", false, nil }
		return "", false, err
	}
	return driverID, true, nil
}

func (p *Postgres) CreateOrders(ctx context.Context, tenantID string, orders []model.OrderIn) (int, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil { return 0, err }
	defer func() { _ = tx.Rollback() }()
	created := 0
	for _, o := range orders {
		var lat, lng any
		if o.Pickup != nil {
			lat = o.Pickup.Lat
			lng = o.Pickup.Lng
		}
		_, err := tx.ExecContext(ctx, `INSERT INTO orders (id, tenant_id, location_id, external_ref, status, pickup_date, pickup_lat, pickup_lng, driver_id)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
			uuid.New(), tenantID, o.LocationID, nullIfEmpty(o.ExternalRef), o.Status, nullIfEmpty(o.PickupDate), lat, lng, nullIfEmpty(o.DriverID))
		if err != nil { return 0, err }
		created++
	}
	if err := tx.Commit(); err != nil { return 0, err }
	return created, nil
}

const orderCols = `id::text, location_id, COALESCE(external_ref,''), status, COALESCE(to_char(pickup_date,'YYYY-MM-DD'),''), pickup_lat, pickup_lng, COALESCE(driver_id,'')`

func scanOrder(sc interface{ Scan(...any) error }, tenantID string) (model.Order, error) {
	var o model.Order
	var lat, lng sql.NullFloat64
	if err := sc.Scan(&o.ID, &o.LocationID, &o.ExternalRef, &o.Status, &o.PickupDate, &lat, &lng, &o.DriverID); err != nil {
		return o, err
	}
	o.TenantID = tenantID
	if lat.Valid && lng.Valid {
		o.Pickup = &geo.Point{Lat: lat.Float64, Lng: lng.Float64}
	}
	return o, nil
}

func (p *Postgres) GetOrder(ctx context.Context, tenantID, id string) (model.Order, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+orderCols+` FROM orders WHERE tenant_id=$1 AND id=$2`, tenantID, id)
	o, err := scanOrder(row, tenantID)
	if errors.Is(err, sql.ErrNoRows) { return o, ErrNotFound }
	return o, err
}

func (p *Postgres) ListOrders(ctx context.Context, tenantID, locationID, status, cursor string, limit int) ([]model.Order, string, error) {
	if limit <= 0 || limit > 500 { limit = 100 }
	q := `SELECT ` + orderCols + ` FROM orders WHERE tenant_id=$1`
	args := []any{tenantID}
	idx := 2
	if locationID != "" { q += ` AND location_id=$` + fmt.Sprint(idx); args = append(args, locationID); idx++ }
	if status != "" { q += ` AND status=$` + fmt.Sprint(idx); args = append(args, status); idx++ }
	if cursor != "" { q += ` AND id::text > $` + fmt.Sprint(idx); args = append(args, cursor); idx++ }
	q += ` ORDER BY id LIMIT $` + fmt.Sprint(idx)
	args = append(args, limit)
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil { return nil, "", err }
	defer rows.Close()
	out := []model.Order{}
	var last string
	for rows.Next() {
		o, err := scanOrder(rows, tenantID)
		if err != nil { return nil, "", err }
		out = append(out, o)
		last = o.ID
	}
	next := ""
	if len(out) == limit { next = last }
	return out, next, rows.Err()
}

func (p *Postgres) ListEligibleOrders(ctx context.Context, tenantID, locationID string) ([]model.Order, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+orderCols+` FROM orders
		WHERE tenant_id=$1 AND location_id=$2 AND status IN ('confirmed','ready','out_for_delivery') ORDER BY id`, tenantID, locationID)
	if err != nil { return nil, err }
	defer rows.Close()
	out := []model.Order{}
	for rows.Next() {
		o, err := scanOrder(rows, tenantID)
		if err != nil { return nil, err }
		out = append(out, o)
	}
	return out, rows.Err()
}

// UpdateOrderDriver is the per-order atomic unit of the reconciliation
// sweep: driver update and planned-route repair commit or roll back
// together. Stops on in_progress/completed routes are never touched.
func (p *Postgres) UpdateOrderDriver(ctx context.Context, tenantID, orderID, driverID string) (model.RepairResult, error) {
	var res model.RepairResult
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil { return res, err }
	defer func() { _ = tx.Rollback() }()

	upd, err := tx.ExecContext(ctx, `UPDATE orders SET driver_id=$1 WHERE tenant_id=$2 AND id=$3`, nullIfEmpty(driverID), tenantID, orderID)
	if err != nil { return res, err }
	if n, _ := upd.RowsAffected(); n == 0 { return res, ErrNotFound }

	rows, err := tx.QueryContext(ctx, `DELETE FROM route_stops rs USING driver_routes dr
		WHERE rs.route_id = dr.id AND rs.tenant_id=$1 AND rs.order_id=$2 AND dr.status='planned'
		RETURNING rs.route_id::text`, tenantID, orderID)
	if err != nil { return res, err }
	touched := map[string]bool{}
	for rows.Next() {
		var rid string
		if err := rows.Scan(&rid); err != nil { rows.Close(); return res, err }
		res.StopsRemoved++
		touched[rid] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil { return res, err }

	for rid := range touched {
		del, err := tx.ExecContext(ctx, `DELETE FROM driver_routes WHERE tenant_id=$1 AND id=$2 AND status='planned'
			AND NOT EXISTS (SELECT 1 FROM route_stops WHERE route_id=$2)`, tenantID, rid)
		if err != nil { return res, err }
		if n, _ := del.RowsAffected(); n > 0 { res.RoutesDeleted++ }
	}
	if err := tx.Commit(); err != nil { return res, err }
	return res, nil
}

func (p *Postgres) PutDriver(ctx context.Context, tenantID string, d model.Driver) (model.Driver, error) {
	if d.ID == "" { d.ID = uuid.New().String() }
	d.TenantID = tenantID
	_, err := p.db.ExecContext(ctx, `INSERT INTO drivers (id, tenant_id, name, is_active) VALUES ($1,$2,$3,$4)
		ON CONFLICT (tenant_id, id) DO UPDATE SET name=$3, is_active=$4`, d.ID, tenantID, nullIfEmpty(d.Name), d.IsActive)
	if err != nil { return model.Driver{}, err }
	return d, nil
}

func (p *Postgres) GetDriver(ctx context.Context, tenantID, id string) (model.Driver, error) {
	d := model.Driver{TenantID: tenantID}
	var name sql.NullString
	err := p.db.QueryRowContext(ctx, `SELECT id, name, is_active FROM drivers WHERE tenant_id=$1 AND id=$2`, tenantID, id).Scan(&d.ID, &name, &d.IsActive)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) { return d, ErrNotFound }
		return d, err
	}
	d.Name = name.String
	return d, nil
}

func (p *Postgres) ListDrivers(ctx context.Context, tenantID string) ([]model.Driver, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id, COALESCE(name,''), is_active FROM drivers WHERE tenant_id=$1 ORDER BY id`, tenantID)
	if err != nil { return nil, err }
	defer rows.Close()
	out := []model.Driver{}
	for rows.Next() {
		d := model.Driver{TenantID: tenantID}
		if err := rows.Scan(&d.ID, &d.Name, &d.IsActive); err != nil { return nil, err }
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *Postgres) DriverAssignable(ctx context.Context, tenantID, driverID string) (bool, error) {
	var active bool
	err := p.db.QueryRowContext(ctx, `SELECT is_active FROM drivers WHERE tenant_id=$1 AND id=$2`, tenantID, driverID).Scan(&active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) { return false, nil }
		return false, err
	}
	return active, nil
}

func (p *Postgres) CreateRoute(ctx context.Context, tenantID string, in model.RouteIn) (model.DriverRoute, error) {
	status := in.Status
	if status == "" { status = model.RoutePlanned }
	rt := model.DriverRoute{ID: uuid.New().String(), TenantID: tenantID, DriverID: in.DriverID, RouteDate: in.RouteDate, Status: status}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil { return model.DriverRoute{}, err }
	defer func() { _ = tx.Rollback() }()
	_, err = tx.ExecContext(ctx, `INSERT INTO driver_routes (id, tenant_id, driver_id, route_date, status) VALUES ($1,$2,$3,$4,$5)`,
		rt.ID, tenantID, in.DriverID, in.RouteDate, status)
	if err != nil { return model.DriverRoute{}, err }
	for i, oid := range in.OrderIDs {
		st := model.RouteStop{ID: uuid.New().String(), RouteID: rt.ID, OrderID: oid, Seq: i + 1, Kind: "pickup"}
		_, err := tx.ExecContext(ctx, `INSERT INTO route_stops (id, tenant_id, route_id, order_id, seq, kind) VALUES ($1,$2,$3,$4,$5,$6)`,
			st.ID, tenantID, rt.ID, oid, st.Seq, st.Kind)
		if err != nil { return model.DriverRoute{}, err }
		rt.Stops = append(rt.Stops, st)
	}
	if err := tx.Commit(); err != nil { return model.DriverRoute{}, err }
	return rt, nil
}

func (p *Postgres) GetRoute(ctx context.Context, tenantID, routeID string) (model.DriverRoute, error) {
	rt := model.DriverRoute{TenantID: tenantID}
	err := p.db.QueryRowContext(ctx, `SELECT id::text, driver_id, to_char(route_date,'YYYY-MM-DD'), status FROM driver_routes WHERE tenant_id=$1 AND id=$2`, tenantID, routeID).
		Scan(&rt.ID, &rt.DriverID, &rt.RouteDate, &rt.Status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) { return rt, ErrNotFound }
		return rt, err
	}
	stops, err := p.routeStops(ctx, tenantID, rt.ID)
	if err != nil { return rt, err }
	rt.Stops = stops
	return rt, nil
}

func (p *Postgres) routeStops(ctx context.Context, tenantID, routeID string) ([]model.RouteStop, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id::text, order_id::text, seq, COALESCE(kind,'') FROM route_stops WHERE tenant_id=$1 AND route_id=$2 ORDER BY seq`, tenantID, routeID)
	if err != nil { return nil, err }
	defer rows.Close()
	var out []model.RouteStop
	for rows.Next() {
		st := model.RouteStop{RouteID: routeID}
		if err := rows.Scan(&st.ID, &st.OrderID, &st.Seq, &st.Kind); err != nil { return nil, err }
		out = append(out, st)
	}
	return out, rows.Err()
}

func (p *Postgres) ListRoutes(ctx context.Context, tenantID, driverID, routeDate string) ([]model.DriverRoute, error) {
	q := `SELECT id::text, driver_id, to_char(route_date,'YYYY-MM-DD'), status FROM driver_routes WHERE tenant_id=$1`
	args := []any{tenantID}
	idx := 2
	if driverID != "" { q += ` AND driver_id=$` + fmt.Sprint(idx); args = append(args, driverID); idx++ }
	if routeDate != "" { q += ` AND route_date=$` + fmt.Sprint(idx) + `::date`; args = append(args, routeDate); idx++ }
	q += ` ORDER BY id`
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil { return nil, err }
	defer rows.Close()
	out := []model.DriverRoute{}
	for rows.Next() {
		rt := model.DriverRoute{TenantID: tenantID}
		if err := rows.Scan(&rt.ID, &rt.DriverID, &rt.RouteDate, &rt.Status); err != nil { return nil, err }
		out = append(out, rt)
	}
	if err := rows.Err(); err != nil { return nil, err }
	for i := range out {
		stops, err := p.routeStops(ctx, tenantID, out[i].ID)
		if err != nil { return nil, err }
		out[i].Stops = stops
	}
	return out, nil
}

func (p *Postgres) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
	id := uuid.New().String()
	ev, _ := json.Marshal(req.Events)
	_, err := p.db.ExecContext(ctx, `INSERT INTO subscriptions (id, tenant_id, url, events, secret) VALUES ($1,$2,$3,$4,$5)`, id, req.TenantID, req.URL, ev, req.Secret)
	if err != nil { return model.Subscription{}, err }
	return model.Subscription{ID: id, TenantID: req.TenantID, URL: req.URL, Events: req.Events, Secret: req.Secret}, nil
}

func (p *Postgres) GetSubscriptionsForEvent(ctx context.Context, tenantID, eventType string) ([]model.Subscription, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id::text, url, secret, events FROM subscriptions WHERE tenant_id=$1 AND events @> $2::jsonb`, tenantID, fmt.Sprintf("[%q]", eventType))
	if err != nil { return nil, err }
	defer rows.Close()
	out := []model.Subscription{}
	for rows.Next() {
		var s model.Subscription
		var events []byte
		if err := rows.Scan(&s.ID, &s.URL, &s.Secret, &events); err != nil { return nil, err }
		s.TenantID = tenantID
		_ = json.Unmarshal(events, &s.Events)
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *Postgres) ListSubscriptions(ctx context.Context, tenantID, cursor string, limit int) ([]model.Subscription, string, error) {
	if limit <= 0 || limit > 500 { limit = 100 }
	var rows *sql.Rows
	var err error
	if cursor != "" {
		rows, err = p.db.QueryContext(ctx, `SELECT id::text, url, secret, events FROM subscriptions WHERE tenant_id=$1 AND id::text > $2 ORDER BY id LIMIT $3`, tenantID, cursor, limit)
	} else {
		rows, err = p.db.QueryContext(ctx, `SELECT id::text, url, secret, events FROM subscriptions WHERE tenant_id=$1 ORDER BY id LIMIT $2`, tenantID, limit)
	}
	if err != nil { return nil, "", err }
	defer rows.Close()
	var out []model.Subscription
	var last string
	for rows.Next() {
		var s model.Subscription
		var ev []byte
		if err := rows.Scan(&s.ID, &s.URL, &s.Secret, &ev); err != nil { return nil, "", err }
		s.TenantID = tenantID
		_ = json.Unmarshal(ev, &s.Events)
		out = append(out, s)
		last = s.ID
	}
	next := ""
	if len(out) == limit { next = last }
	return out, next, rows.Err()
}

func (p *Postgres) DeleteSubscription(ctx context.Context, tenantID, id string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE tenant_id=$1 AND id=$2`, tenantID, id)
	return err
}

func (p *Postgres) EnqueueNotification(ctx context.Context, tenantID, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
	id := uuid.New().String()
	_, err := p.db.ExecContext(ctx, `INSERT INTO notification_deliveries (id, tenant_id, subscription_id, event_type, url, secret, payload, status, attempts, next_attempt_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,'pending',0,now())`, id, tenantID, nullIfEmpty(subscriptionID), eventType, url, nullIfEmpty(secret), payload)
	if err != nil { return "", err }
	return id, nil
}

func (p *Postgres) FetchDueNotifications(ctx context.Context, limit int) ([]NotificationDelivery, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id::text, tenant_id, COALESCE(subscription_id::text,''), event_type, url, COALESCE(secret,''), payload, status, attempts
		FROM notification_deliveries WHERE status IN ('pending','retry') AND next_attempt_at <= now() ORDER BY next_attempt_at ASC LIMIT $1`, limit)
	if err != nil { return nil, err }
	defer rows.Close()
	out := []NotificationDelivery{}
	for rows.Next() {
		var d NotificationDelivery
		if err := rows.Scan(&d.ID, &d.TenantID, &d.SubscriptionID, &d.EventType, &d.URL, &d.Secret, &d.Payload, &d.Status, &d.Attempts); err != nil { return nil, err }
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *Postgres) MarkNotificationDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	if !success {
		if nextAttemptAt == nil {
			t := time.Now().Add(1 * time.Minute)
			nextAttemptAt = &t
		}
		_, err := p.db.ExecContext(ctx, `UPDATE notification_deliveries SET attempts=attempts+1, status='retry', last_error=$2, next_attempt_at=$3, updated_at=now(), response_code=$4, latency_ms=$5 WHERE id=$1`,
			id, nullIfEmpty(lastError), *nextAttemptAt, responseCode, latencyMs)
		return err
	}
	_, err := p.db.ExecContext(ctx, `UPDATE notification_deliveries SET attempts=attempts+1, status='delivered', delivered_at=now(), updated_at=now(), response_code=$2, latency_ms=$3 WHERE id=$1`, id, responseCode, latencyMs)
	return err
}

func (p *Postgres) FailNotificationDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	_, err := p.db.ExecContext(ctx, `UPDATE notification_deliveries SET status='failed', last_error=$2, updated_at=now(), response_code=$3, latency_ms=$4 WHERE id=$1`, id, nullIfEmpty(lastError), responseCode, latencyMs)
	if err != nil { return err }
	_, err = p.db.ExecContext(ctx, `INSERT INTO notification_dlq (id, tenant_id, delivery_id, event_type, url, secret, payload, attempts, last_error)
		SELECT gen_random_uuid(), tenant_id, id, event_type, url, secret, payload, attempts+1, $2 FROM notification_deliveries WHERE id=$1`, id, nullIfEmpty(lastError))
	return err
}

func (p *Postgres) ListNotificationDeliveries(ctx context.Context, tenantID, status, cursor string, limit int) ([]map[string]any, string, error) {
	if limit <= 0 || limit > 500 { limit = 100 }
	q := `SELECT id::text, event_type, status, attempts, next_attempt_at, COALESCE(last_error,''), url FROM notification_deliveries WHERE tenant_id=$1`
	args := []any{tenantID}
	idx := 2
	if status != "" { q += ` AND status=$` + fmt.Sprint(idx); args = append(args, status); idx++ }
	if cursor != "" { q += ` AND id::text > $` + fmt.Sprint(idx); args = append(args, cursor); idx++ }
	q += ` ORDER BY id LIMIT $` + fmt.Sprint(idx)
	args = append(args, limit)
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil { return nil, "", err }
	defer rows.Close()
	out := []map[string]any{}
	var last string
	for rows.Next() {
		var id, typ, st, lastErr, url string
		var attempts int
		var nextAt sql.NullTime
		if err := rows.Scan(&id, &typ, &st, &attempts, &nextAt, &lastErr, &url); err != nil { return nil, "", err }
		m := map[string]any{"id": id, "eventType": typ, "status": st, "attempts": attempts, "url": url}
		if nextAt.Valid { m["nextAttemptAt"] = nextAt.Time }
		if lastErr != "" { m["lastError"] = lastErr }
		out = append(out, m)
		last = id
	}
	next := ""
	if len(out) == limit { next = last }
	return out, next, rows.Err()
}

func (p *Postgres) RetryNotificationDelivery(ctx context.Context, tenantID, id string) error {
	_, err := p.db.ExecContext(ctx, `UPDATE notification_deliveries SET status='pending', next_attempt_at=now() WHERE tenant_id=$1 AND id=$2`, tenantID, id)
	return err
}

func (p *Postgres) ListNotificationDLQ(ctx context.Context, tenantID, cursor string, limit int) ([]map[string]any, string, error) {
	if limit <= 0 || limit > 500 { limit = 100 }
	q := `SELECT id::text, delivery_id::text, event_type, url, COALESCE(last_error,''), attempts, created_at FROM notification_dlq WHERE tenant_id=$1`
	args := []any{tenantID}
	idx := 2
	if cursor != "" { q += ` AND id::text > $` + fmt.Sprint(idx); args = append(args, cursor); idx++ }
	q += ` ORDER BY id LIMIT $` + fmt.Sprint(idx)
	args = append(args, limit)
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil { return nil, "", err }
	defer rows.Close()
	out := []map[string]any{}
	var last string
	for rows.Next() {
		var id, delID, et, url, errStr string
		var attempts int
		var created time.Time
		if err := rows.Scan(&id, &delID, &et, &url, &errStr, &attempts, &created); err != nil { return nil, "", err }
		out = append(out, map[string]any{"id": id, "deliveryId": delID, "eventType": et, "url": url, "lastError": errStr, "attempts": attempts, "createdAt": created})
		last = id
	}
	next := ""
	if len(out) == limit { next = last }
	return out, next, rows.Err()
}

func (p *Postgres) RequeueNotificationDLQ(ctx context.Context, tenantID, id string) error {
	var delID, et, url, secret string
	var payload []byte
	err := p.db.QueryRowContext(ctx, `SELECT COALESCE(delivery_id::text,''), event_type, url, COALESCE(secret,''), payload FROM notification_dlq WHERE tenant_id=$1 AND id=$2`, tenantID, id).
		Scan(&delID, &et, &url, &secret, &payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) { return ErrNotFound }
		return err
	}
	if _, err := p.EnqueueNotification(ctx, tenantID, "", et, url, secret, payload); err != nil { return err }
	_, err = p.db.ExecContext(ctx, `DELETE FROM notification_dlq WHERE tenant_id=$1 AND id=$2`, tenantID, id)
	return err
}

func nullIfEmpty(s string) any { if s == "" { return nil }; return s }
