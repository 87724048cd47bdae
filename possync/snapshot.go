// Copyright 2026 Ahmad
// SPDX-License-Identifier: MIT

package possync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Incremental master-data export. A terminal pulls everything modified after
// its cursor; the response's Cursor is the highest modification time it is
// safe to resume from, so repeating the pull with the returned cursor never
// skips a row. Disabled rows are emitted, not omitted, which is how removals
// propagate to caches.

// snapshotWindow accumulates the response cursor across collections. Each
// collection advances the window with the rows it emits; a collection that
// hits its row limit caps the window below its first unsent row, otherwise
// the next pull's strictly-greater filter would skip that row forever.
type snapshotWindow struct {
	start   time.Time
	max     time.Time
	cap     time.Time
	capped  bool
	hasMore bool
}

func (w *snapshotWindow) observe(ts time.Time) {
	if ts.After(w.max) {
		w.max = ts
	}
}

func (w *snapshotWindow) truncate(limit time.Time) {
	w.hasMore = true
	if !w.capped || limit.Before(w.cap) {
		w.cap = limit
		w.capped = true
	}
}

func (w *snapshotWindow) value() time.Time {
	out := w.max
	if out.Before(w.start) {
		out = w.start
	}
	if w.capped && w.cap.Before(out) {
		out = w.cap
	}
	return out
}

// collectionCursor tracks emitted modification times for one collection.
// Rows arrive in ascending modified_at order.
type collectionCursor struct {
	last time.Time // newest emitted modified_at
	prev time.Time // newest emitted modified_at strictly before last
}

func (c *collectionCursor) observe(ts time.Time) {
	if ts.After(c.last) {
		c.prev = c.last
		c.last = ts
	}
}

// resumeBefore returns the furthest cursor that keeps the first unsent row
// (carrying next) visible to a strictly-greater filter. Emitted rows sharing
// the boundary timestamp are re-delivered on the following pull rather than
// lost.
func (c *collectionCursor) resumeBefore(next, start time.Time) time.Time {
	if c.last.Before(next) {
		return c.last
	}
	if c.prev.After(start) {
		return c.prev
	}
	return start
}

// BuildSnapshot computes the master-data delta for a profile since cursor.
// A zero cursor returns the full dataset.
func (s *SyncService) BuildSnapshot(ctx context.Context, profileName string, cursor time.Time) (*SnapshotResponse, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}

	profile, err := s.loadProfile(ctx, profileName)
	if err != nil {
		return nil, err
	}

	resp := &SnapshotResponse{
		Items:          []SnapshotItem{},
		Customers:      []SnapshotCustomer{},
		ItemGroups:     []SnapshotItemGroup{},
		PaymentMethods: []SnapshotPaymentMethod{},
		TaxRules:       []SnapshotTaxRule{},
		Profile: SnapshotProfile{
			Name:      profile.Name,
			Company:   profile.Company,
			Warehouse: profile.Warehouse,
			PriceList: profile.PriceList,
			Currency:  profile.Currency,
			Customer:  deref(profile.DefaultCustomer),
		},
		Cursor: cursor,
	}
	win := &snapshotWindow{start: cursor}

	if err := s.snapshotItems(ctx, profile, cursor, resp, win); err != nil {
		return nil, err
	}
	if err := s.snapshotCustomers(ctx, cursor, resp, win); err != nil {
		return nil, err
	}
	if err := s.snapshotItemGroups(ctx, profile, cursor, resp, win); err != nil {
		return nil, err
	}
	if err := s.snapshotPaymentMethods(ctx, profile, cursor, resp, win); err != nil {
		return nil, err
	}
	if err := s.snapshotTaxRules(ctx, profile, cursor, resp, win); err != nil {
		return nil, err
	}

	resp.Cursor = win.value()
	resp.HasMore = win.hasMore

	s.logger.Debug("Built snapshot",
		"profile", profileName,
		"cursor_in", cursor,
		"cursor_out", resp.Cursor,
		"has_more", resp.HasMore,
		"items", len(resp.Items),
		"customers", len(resp.Customers))
	return resp, nil
}

func (s *SyncService) loadProfile(ctx context.Context, name string) (*Profile, error) {
	var p Profile
	err := s.pool.QueryRow(ctx, `
		SELECT name, company, warehouse, selling_price_list, tax_template,
		       income_account, default_customer, currency, disabled
		FROM pos.profiles WHERE name = $1`, name).Scan(
		&p.Name, &p.Company, &p.Warehouse, &p.PriceList, &p.TaxTemplate,
		&p.IncomeAccount, &p.DefaultCustomer, &p.Currency, &p.Disabled)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: pos profile %q not found", ErrMissingReference, name)
	}
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}
	if p.Disabled {
		return nil, fmt.Errorf("%w: pos profile %q is disabled", ErrMissingReference, name)
	}
	return &p, nil
}

func (s *SyncService) snapshotLimit() int {
	if s.config.SnapshotLimit > 0 {
		return s.config.SnapshotLimit
	}
	return 1 << 31
}

// snapshotItems emits items visible to the profile, with the profile's price
// list rate, the profile warehouse stock level, and all barcodes. A profile
// with no item-group mappings sees the whole catalog. One extra row is
// fetched past the limit to detect truncation.
func (s *SyncService) snapshotItems(ctx context.Context, profile *Profile, cursor time.Time, resp *SnapshotResponse, win *snapshotWindow) error {
	limit := s.snapshotLimit()
	rows, err := s.pool.Query(ctx, `
		SELECT i.item_code, i.item_name, i.item_group, i.stock_uom, i.brand,
		       i.description, i.disabled,
		       GREATEST(i.modified_at, COALESCE(p.modified_at, i.modified_at)) AS modified_at,
		       COALESCE(p.rate, 0),
		       COALESCE(b.actual_qty, 0),
		       COALESCE(bc.barcodes, '{}')
		FROM pos.items i
		LEFT JOIN pos.item_prices p ON p.item_code = i.item_code AND p.price_list = @price_list
		LEFT JOIN pos.stock_bins b ON b.item_code = i.item_code AND b.warehouse = @warehouse
		LEFT JOIN LATERAL (
			SELECT array_agg(barcode ORDER BY barcode) AS barcodes
			FROM pos.item_barcodes WHERE item_code = i.item_code
		) bc ON TRUE
		WHERE GREATEST(i.modified_at, COALESCE(p.modified_at, i.modified_at)) > @cursor
		  AND (NOT EXISTS (SELECT 1 FROM pos.profile_item_groups WHERE profile = @profile)
		       OR i.item_group IN (SELECT item_group FROM pos.profile_item_groups WHERE profile = @profile))
		ORDER BY modified_at ASC
		LIMIT @limit`,
		pgx.NamedArgs{
			"price_list": profile.PriceList,
			"warehouse":  profile.Warehouse,
			"cursor":     cursor,
			"profile":    profile.Name,
			"limit":      limit + 1,
		})
	if err != nil {
		return fmt.Errorf("snapshot items: %w", err)
	}
	defer rows.Close()

	var col collectionCursor
	for rows.Next() {
		var it SnapshotItem
		if err := rows.Scan(&it.ItemCode, &it.ItemName, &it.ItemGroup, &it.StockUOM,
			&it.Brand, &it.Description, &it.Disabled, &it.ModifiedAt,
			&it.Price, &it.StockQty, &it.Barcodes); err != nil {
			return fmt.Errorf("scan snapshot item: %w", err)
		}
		if len(resp.Items) == limit {
			win.truncate(col.resumeBefore(it.ModifiedAt, cursor))
			break
		}
		resp.Items = append(resp.Items, it)
		col.observe(it.ModifiedAt)
		win.observe(it.ModifiedAt)
	}
	return rows.Err()
}

func (s *SyncService) snapshotCustomers(ctx context.Context, cursor time.Time, resp *SnapshotResponse, win *snapshotWindow) error {
	limit := s.snapshotLimit()
	rows, err := s.pool.Query(ctx, `
		SELECT name, customer_group, customer_type, phone, email,
		       loyalty_points, disabled, modified_at
		FROM pos.customers
		WHERE modified_at > $1
		ORDER BY modified_at ASC
		LIMIT $2`, cursor, limit+1)
	if err != nil {
		return fmt.Errorf("snapshot customers: %w", err)
	}
	defer rows.Close()

	var col collectionCursor
	for rows.Next() {
		var c SnapshotCustomer
		if err := rows.Scan(&c.Name, &c.CustomerGroup, &c.CustomerType, &c.Phone,
			&c.Email, &c.LoyaltyPoints, &c.Disabled, &c.ModifiedAt); err != nil {
			return fmt.Errorf("scan snapshot customer: %w", err)
		}
		if len(resp.Customers) == limit {
			win.truncate(col.resumeBefore(c.ModifiedAt, cursor))
			break
		}
		resp.Customers = append(resp.Customers, c)
		col.observe(c.ModifiedAt)
		win.observe(c.ModifiedAt)
	}
	return rows.Err()
}

func (s *SyncService) snapshotItemGroups(ctx context.Context, profile *Profile, cursor time.Time, resp *SnapshotResponse, win *snapshotWindow) error {
	limit := s.snapshotLimit()
	rows, err := s.pool.Query(ctx, `
		SELECT name, parent, modified_at
		FROM pos.item_groups
		WHERE modified_at > @cursor
		  AND (NOT EXISTS (SELECT 1 FROM pos.profile_item_groups WHERE profile = @profile)
		       OR name IN (SELECT item_group FROM pos.profile_item_groups WHERE profile = @profile))
		ORDER BY modified_at ASC
		LIMIT @limit`,
		pgx.NamedArgs{"cursor": cursor, "profile": profile.Name, "limit": limit + 1})
	if err != nil {
		return fmt.Errorf("snapshot item groups: %w", err)
	}
	defer rows.Close()

	var col collectionCursor
	for rows.Next() {
		var g SnapshotItemGroup
		if err := rows.Scan(&g.Name, &g.Parent, &g.ModifiedAt); err != nil {
			return fmt.Errorf("scan snapshot item group: %w", err)
		}
		if len(resp.ItemGroups) == limit {
			win.truncate(col.resumeBefore(g.ModifiedAt, cursor))
			break
		}
		resp.ItemGroups = append(resp.ItemGroups, g)
		col.observe(g.ModifiedAt)
		win.observe(g.ModifiedAt)
	}
	return rows.Err()
}

func (s *SyncService) snapshotPaymentMethods(ctx context.Context, profile *Profile, cursor time.Time, resp *SnapshotResponse, win *snapshotWindow) error {
	limit := s.snapshotLimit()
	rows, err := s.pool.Query(ctx, `
		SELECT m.name, m.kind, COALESCE(a.account, ''), m.modified_at
		FROM pos.payment_methods m
		LEFT JOIN pos.payment_method_accounts a ON a.method = m.name AND a.company = $1
		WHERE m.modified_at > $2
		ORDER BY m.modified_at ASC
		LIMIT $3`, profile.Company, cursor, limit+1)
	if err != nil {
		return fmt.Errorf("snapshot payment methods: %w", err)
	}
	defer rows.Close()

	var col collectionCursor
	for rows.Next() {
		var m SnapshotPaymentMethod
		if err := rows.Scan(&m.Method, &m.Kind, &m.Account, &m.ModifiedAt); err != nil {
			return fmt.Errorf("scan snapshot payment method: %w", err)
		}
		if len(resp.PaymentMethods) == limit {
			win.truncate(col.resumeBefore(m.ModifiedAt, cursor))
			break
		}
		m.Default = m.Kind == "Cash"
		resp.PaymentMethods = append(resp.PaymentMethods, m)
		col.observe(m.ModifiedAt)
		win.observe(m.ModifiedAt)
	}
	return rows.Err()
}

// snapshotTaxRules emits the profile's template lines. Templates are a handful
// of rows, so no truncation applies.
func (s *SyncService) snapshotTaxRules(ctx context.Context, profile *Profile, cursor time.Time, resp *SnapshotResponse, win *snapshotWindow) error {
	if profile.TaxTemplate == nil || *profile.TaxTemplate == "" {
		return nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT charge_type, account_head, rate, description, modified_at
		FROM pos.tax_template_lines
		WHERE template = $1 AND modified_at > $2
		ORDER BY idx ASC`, *profile.TaxTemplate, cursor)
	if err != nil {
		return fmt.Errorf("snapshot tax rules: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var t SnapshotTaxRule
		if err := rows.Scan(&t.ChargeType, &t.AccountHead, &t.Rate, &t.Description, &t.ModifiedAt); err != nil {
			return fmt.Errorf("scan snapshot tax rule: %w", err)
		}
		resp.TaxRules = append(resp.TaxRules, t)
		win.observe(t.ModifiedAt)
	}
	return rows.Err()
}
