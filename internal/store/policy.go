package store

import (
	"context"
	"fmt"

	"github.com/tracelock/tracelock/pkg/types"
)

// policyRecordID is the single retention-policy record per tenant.
const policyRecordID = "retention"

// DefaultRetentionPolicy returns the policy applied to tenants that have
// never set one: one year of comprehensive snapshots, 90 days of
// lightweight ones, capped counts per kind.
func DefaultRetentionPolicy(tenantID string) *types.RetentionPolicy {
	return &types.RetentionPolicy{
		TenantID: tenantID,
		MaxAgeDays: map[types.SnapshotKind]int{
			types.KindLightweight:   90,
			types.KindComprehensive: 365,
		},
		MaxCount: map[types.SnapshotKind]int{
			types.KindLightweight:   500,
			types.KindComprehensive: 120,
		},
		Strategy:      types.StrategyOldestFirst,
		SchemaVersion: 1,
	}
}

// GetRetentionPolicy returns the tenant's policy, falling back to the
// default when none was ever stored.
func (l *Ledger) GetRetentionPolicy(ctx context.Context) (*types.RetentionPolicy, error) {
	var policy types.RetentionPolicy
	found, err := l.getRecord(ctx, l.recordKey(kindPolicy, policyRecordID), &policy)
	if err != nil {
		return nil, err
	}
	if !found {
		return DefaultRetentionPolicy(l.tenantID), nil
	}
	return &policy, nil
}

// SetRetentionPolicy replaces the tenant's policy. This is the explicit
// administrative path; capture and drift code never reach it.
func (l *Ledger) SetRetentionPolicy(ctx context.Context, policy *types.RetentionPolicy) error {
	if err := l.checkTenant(kindPolicy, policyRecordID, policy.TenantID); err != nil {
		return err
	}
	if err := policy.Validate(); err != nil {
		return fmt.Errorf("invalid retention policy: %w", err)
	}
	return l.putRecord(ctx, l.recordKey(kindPolicy, policyRecordID), policy, nil)
}
