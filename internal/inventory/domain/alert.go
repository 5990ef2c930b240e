package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

type AlertType string

const (
	AlertLowStock     AlertType = "low_stock"
	AlertOutOfStock   AlertType = "out_of_stock"
	AlertExpiringSoon AlertType = "expiring_soon"
	AlertExpired      AlertType = "expired"
	AlertReorder      AlertType = "reorder"
)

func (t AlertType) Valid() bool {
	switch t {
	case AlertLowStock, AlertOutOfStock, AlertExpiringSoon, AlertExpired, AlertReorder:
		return true
	}
	return false
}

type AlertStatus string

const (
	AlertActive       AlertStatus = "active"
	AlertAcknowledged AlertStatus = "acknowledged"
	AlertResolved     AlertStatus = "resolved"
)

var (
	ErrAlertResolved = errors.New("alert is already resolved")
)

// Alert is one lifecycle of an alert condition. BranchID nil means the alert
// aggregates every branch listed in AffectedBranchIDs.
type Alert struct {
	ID                string              `json:"id" db:"id"`
	MaterialID        string              `json:"material_id" db:"material_id"`
	BranchID          *string             `json:"branch_id" db:"branch_id"`
	Type              AlertType           `json:"type" db:"type"`
	Status            AlertStatus         `json:"status" db:"status"`
	Message           string              `json:"message" db:"message"`
	CurrentQuantity   decimal.Decimal     `json:"current_quantity" db:"current_quantity"`
	Threshold         decimal.NullDecimal `json:"threshold" db:"threshold"`
	AffectedBranchIDs pq.StringArray      `json:"affected_branch_ids" db:"affected_branch_ids"`
	CreatedAt         time.Time           `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time           `json:"updated_at" db:"updated_at"`
	AcknowledgedAt    *time.Time          `json:"acknowledged_at,omitempty" db:"acknowledged_at"`
	AcknowledgedBy    *string             `json:"acknowledged_by,omitempty" db:"acknowledged_by"`
	ResolvedAt        *time.Time          `json:"resolved_at,omitempty" db:"resolved_at"`
	ResolvedBy        *string             `json:"resolved_by,omitempty" db:"resolved_by"`
	MaterialName      string              `json:"material_name,omitempty" db:"material_name"`
}

// Open reports whether the alert still counts against its key.
func (a *Alert) Open() bool {
	return a.Status == AlertActive || a.Status == AlertAcknowledged
}

// Key identifies the slot an alert occupies while open.
func (a *Alert) Key() AlertKey {
	k := AlertKey{MaterialID: a.MaterialID, Type: a.Type}
	if a.BranchID != nil {
		k.BranchID = *a.BranchID
	}
	return k
}

// Acknowledge moves active to acknowledged. Acknowledging twice is a no-op
// and reports false.
func (a *Alert) Acknowledge(by string, now time.Time) (bool, error) {
	switch a.Status {
	case AlertResolved:
		return false, ErrAlertResolved
	case AlertAcknowledged:
		return false, nil
	}
	a.Status = AlertAcknowledged
	a.AcknowledgedAt = &now
	a.AcknowledgedBy = &by
	a.UpdatedAt = now
	return true, nil
}

// Resolve closes the alert from either open state.
func (a *Alert) Resolve(by string, now time.Time) error {
	if a.Status == AlertResolved {
		return ErrAlertResolved
	}
	a.Status = AlertResolved
	a.ResolvedAt = &now
	a.ResolvedBy = &by
	a.UpdatedAt = now
	return nil
}

// AlertKey is (material, branch, type); an empty BranchID is the aggregate slot.
type AlertKey struct {
	MaterialID string
	BranchID   string
	Type       AlertType
}

func (k AlertKey) String() string {
	branch := k.BranchID
	if branch == "" {
		branch = "*"
	}
	return k.MaterialID + "/" + branch + "/" + string(k.Type)
}

// Condition is an alert that should currently be open.
type Condition struct {
	Key               AlertKey
	Message           string
	Quantity          decimal.Decimal
	Threshold         decimal.NullDecimal
	AffectedBranchIDs []string
}

// StockBand places a quantity into at most one of the three mutually
// exclusive stock bands.
func StockBand(qty, minimum, reorder decimal.Decimal) (AlertType, bool) {
	switch {
	case !qty.IsPositive():
		return AlertOutOfStock, true
	case qty.LessThanOrEqual(minimum):
		return AlertLowStock, true
	case qty.LessThanOrEqual(reorder):
		return AlertReorder, true
	}
	return "", false
}

// StockSnapshot is everything needed to derive the alerts of one material.
type StockSnapshot struct {
	Material   Material
	Quantities []BranchQuantity
	// Batches are the live batches of the material across all branches.
	Batches []Batch
	// BranchNames resolves ids for messages; missing ids fall back to the id.
	BranchNames map[string]string
}

// DesiredAlerts derives the set of alerts that should be open for a
// material right now. The result is sorted by key.
func DesiredAlerts(s StockSnapshot, today time.Time, expiringSoonDays int) []Condition {
	m := s.Material
	name := func(id string) string {
		if n, ok := s.BranchNames[id]; ok && n != "" {
			return n
		}
		return id
	}

	var out []Condition
	var outBranches []string

	for _, q := range s.Quantities {
		band, ok := StockBand(q.Quantity, m.MinimumThreshold, m.ReorderLevel)
		if !ok {
			continue
		}
		c := Condition{
			Key:               AlertKey{MaterialID: m.ID, BranchID: q.BranchID, Type: band},
			Quantity:          q.Quantity,
			AffectedBranchIDs: []string{q.BranchID},
		}
		switch band {
		case AlertOutOfStock:
			c.Message = fmt.Sprintf("%s is out of stock at %s", m.Name, name(q.BranchID))
			outBranches = append(outBranches, q.BranchID)
		case AlertLowStock:
			c.Threshold = decimal.NewNullDecimal(m.MinimumThreshold)
			c.Message = fmt.Sprintf("%s is low at %s: %s %s left (minimum %s %s)",
				m.Name, name(q.BranchID), q.Quantity.String(), m.Unit, m.MinimumThreshold.String(), m.Unit)
		case AlertReorder:
			c.Threshold = decimal.NewNullDecimal(m.ReorderLevel)
			c.Message = fmt.Sprintf("%s should be reordered at %s: %s %s left (reorder level %s %s)",
				m.Name, name(q.BranchID), q.Quantity.String(), m.Unit, m.ReorderLevel.String(), m.Unit)
		}
		out = append(out, c)
	}

	if len(outBranches) > 0 {
		sort.Strings(outBranches)
		names := make([]string, len(outBranches))
		for i, id := range outBranches {
			names[i] = name(id)
		}
		out = append(out, Condition{
			Key:               AlertKey{MaterialID: m.ID, Type: AlertOutOfStock},
			Message:           fmt.Sprintf("%s is out of stock at %d branch(es): %s", m.Name, len(names), strings.Join(names, ", ")),
			Quantity:          decimal.Zero,
			AffectedBranchIDs: outBranches,
		})
	}

	expired := expiryGroup{}
	soon := expiryGroup{}
	for _, b := range s.Batches {
		if !b.Live() {
			continue
		}
		switch {
		case b.ExpiredOn(today):
			expired.add(b)
		case b.ExpiringSoonOn(today, expiringSoonDays):
			soon.add(b)
		}
	}

	if expired.total.IsPositive() {
		out = append(out, expired.condition(m, AlertExpired, name,
			"%s %s of %s expired at %s"))
	}
	if soon.total.IsPositive() {
		out = append(out, soon.condition(m, AlertExpiringSoon, name,
			"%s %s of %s expiring within "+fmt.Sprint(expiringSoonDays)+" days at %s"))
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Key.String() < out[j].Key.String() })
	return out
}

type expiryGroup struct {
	total    decimal.Decimal
	branches map[string]bool
}

func (g *expiryGroup) add(b Batch) {
	if g.branches == nil {
		g.branches = map[string]bool{}
	}
	g.total = g.total.Add(b.Quantity)
	g.branches[b.BranchID] = true
}

func (g *expiryGroup) condition(m Material, t AlertType, name func(string) string, format string) Condition {
	ids := make([]string, 0, len(g.branches))
	for id := range g.branches {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	names := make([]string, len(ids))
	for i, id := range ids {
		names[i] = name(id)
	}
	return Condition{
		Key:               AlertKey{MaterialID: m.ID, Type: t},
		Message:           fmt.Sprintf(format, g.total.String(), m.Unit, m.Name, strings.Join(names, ", ")),
		Quantity:          g.total,
		AffectedBranchIDs: ids,
	}
}

// DeltaAction describes what reconciliation did to an alert.
type DeltaAction string

const (
	DeltaCreated  DeltaAction = "created"
	DeltaUpdated  DeltaAction = "updated"
	DeltaResolved DeltaAction = "resolved"
)

// AlertDelta is one change produced by an evaluation pass.
type AlertDelta struct {
	Action DeltaAction `json:"action"`
	Alert  Alert       `json:"alert"`
}

// Reconcile compares the currently open alerts of a material with the
// desired conditions. Open alerts without a matching condition are resolved
// (acknowledged ones included), missing ones are created and changed ones
// updated in place. Unchanged alerts produce no delta, so running it twice
// against the same state yields nothing the second time.
func Reconcile(open []Alert, desired []Condition, now time.Time) []AlertDelta {
	byKey := make(map[AlertKey]Alert, len(open))
	for _, a := range open {
		if a.Open() {
			byKey[a.Key()] = a
		}
	}

	var deltas []AlertDelta
	seen := make(map[AlertKey]bool, len(desired))

	for _, c := range desired {
		seen[c.Key] = true
		current, ok := byKey[c.Key]
		if !ok {
			a := Alert{
				MaterialID:        c.Key.MaterialID,
				Type:              c.Key.Type,
				Status:            AlertActive,
				Message:           c.Message,
				CurrentQuantity:   c.Quantity,
				Threshold:         c.Threshold,
				AffectedBranchIDs: pq.StringArray(c.AffectedBranchIDs),
				CreatedAt:         now,
				UpdatedAt:         now,
			}
			if c.Key.BranchID != "" {
				branch := c.Key.BranchID
				a.BranchID = &branch
			}
			deltas = append(deltas, AlertDelta{Action: DeltaCreated, Alert: a})
			continue
		}

		if sameSnapshot(current, c) {
			continue
		}
		current.Message = c.Message
		current.CurrentQuantity = c.Quantity
		current.Threshold = c.Threshold
		current.AffectedBranchIDs = pq.StringArray(c.AffectedBranchIDs)
		current.UpdatedAt = now
		deltas = append(deltas, AlertDelta{Action: DeltaUpdated, Alert: current})
	}

	var stale []Alert
	for key, a := range byKey {
		if !seen[key] {
			stale = append(stale, a)
		}
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].Key().String() < stale[j].Key().String() })
	for _, a := range stale {
		_ = a.Resolve(SystemResolver, now)
		deltas = append(deltas, AlertDelta{Action: DeltaResolved, Alert: a})
	}

	return deltas
}

// SystemResolver is recorded as resolved_by for automatic resolutions.
const SystemResolver = "system"

func sameSnapshot(a Alert, c Condition) bool {
	if a.Message != c.Message || !a.CurrentQuantity.Equal(c.Quantity) {
		return false
	}
	if a.Threshold.Valid != c.Threshold.Valid {
		return false
	}
	if a.Threshold.Valid && !a.Threshold.Decimal.Equal(c.Threshold.Decimal) {
		return false
	}
	if len(a.AffectedBranchIDs) != len(c.AffectedBranchIDs) {
		return false
	}
	for i := range c.AffectedBranchIDs {
		if a.AffectedBranchIDs[i] != c.AffectedBranchIDs[i] {
			return false
		}
	}
	return true
}
