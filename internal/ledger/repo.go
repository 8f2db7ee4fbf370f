package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/rentescrow-backend/pkg/db"
	"github.com/angelmondragon/rentescrow-backend/pkg/db/models"
	"github.com/angelmondragon/rentescrow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/rentescrow-backend/pkg/errors"
)

// Repository is the durable record of deposits, disputes and payouts. Every
// mutation of an existing deposit or dispute is a version-checked update.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	CreateDeposit(ctx context.Context, deposit *models.Deposit) error
	GetDeposit(ctx context.Context, id uuid.UUID) (*models.Deposit, error)
	GetDepositByReference(ctx context.Context, reference string) (*models.Deposit, error)
	FindDepositByFundingTx(ctx context.Context, txHash string) (*models.Deposit, error)
	CompareAndSwap(ctx context.Context, id uuid.UUID, expectedVersion int64, next DepositChange) (*models.Deposit, error)
	ExpiredFunded(ctx context.Context, now time.Time, limit int) ([]models.Deposit, error)
	CountDepositsByStatus(ctx context.Context) (map[enums.DepositStatus]int64, error)

	CreateDispute(ctx context.Context, dispute *models.Dispute) error
	GetDispute(ctx context.Context, id uuid.UUID) (*models.Dispute, error)
	ActiveDispute(ctx context.Context, depositID uuid.UUID) (*models.Dispute, error)
	ListDisputes(ctx context.Context, depositID uuid.UUID) ([]models.Dispute, error)
	CompareAndSwapDispute(ctx context.Context, id uuid.UUID, expectedVersion int64, next DisputeChange) (*models.Dispute, error)
	ScanDisputes(ctx context.Context, fn func(models.Dispute) error) error

	InsertPayouts(ctx context.Context, payouts []models.Payout) error
	ListPayouts(ctx context.Context, depositID uuid.UUID) ([]models.Payout, error)
	PendingPayouts(ctx context.Context, limit int) ([]models.Payout, error)
	MarkPayoutSettled(ctx context.Context, id uuid.UUID, txHash string, at time.Time) (bool, error)
	MarkPayoutFailed(ctx context.Context, id uuid.UUID, reason string) error
}

// DepositChange is the next state written by CompareAndSwap. Nil fields are
// left untouched; timestamps are set once and never overwritten.
type DepositChange struct {
	Status              enums.DepositStatus
	FundingTxHash       *string
	FundingSource       *enums.FundingSource
	DisputeID           *uuid.UUID
	FundedAt            *time.Time
	ReleaseWindowEndsAt *time.Time
	ReleasedAt          *time.Time
	ResolvedAt          *time.Time
}

// DisputeChange is the next state written by CompareAndSwapDispute.
type DisputeChange struct {
	Status        enums.DisputeStatus
	Resolution    *enums.ResolutionOutcome
	RenterShare   *decimal.Decimal
	LandlordShare *decimal.Decimal
	Arbiter       *string
	ReviewedAt    *time.Time
	ResolvedAt    *time.Time
}

type repository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(conn *gorm.DB) Repository {
	return &repository{db: conn, now: func() time.Time { return time.Now().UTC() }}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx, now: r.now}
}

func (r *repository) CreateDeposit(ctx context.Context, deposit *models.Deposit) error {
	if deposit.ID == uuid.Nil {
		deposit.ID = uuid.New()
	}
	now := r.now()
	if deposit.CreatedAt.IsZero() {
		deposit.CreatedAt = now
	}
	deposit.UpdatedAt = now
	if deposit.Version == 0 {
		deposit.Version = 1
	}
	if err := r.db.WithContext(ctx).Create(deposit).Error; err != nil {
		if db.IsUniqueViolation(err) {
			return pkgerrors.Wrap(pkgerrors.CodeDuplicateID, err, "deposit already exists")
		}
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "insert deposit")
	}
	return nil
}

func (r *repository) GetDeposit(ctx context.Context, id uuid.UUID) (*models.Deposit, error) {
	var deposit models.Deposit
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&deposit).Error; err != nil {
		return nil, notFound(err, "deposit")
	}
	return &deposit, nil
}

func (r *repository) GetDepositByReference(ctx context.Context, reference string) (*models.Deposit, error) {
	var deposit models.Deposit
	if err := r.db.WithContext(ctx).Where("reference = ?", reference).First(&deposit).Error; err != nil {
		return nil, notFound(err, "deposit")
	}
	return &deposit, nil
}

func (r *repository) FindDepositByFundingTx(ctx context.Context, txHash string) (*models.Deposit, error) {
	var deposit models.Deposit
	if err := r.db.WithContext(ctx).Where("funding_tx_hash = ?", txHash).First(&deposit).Error; err != nil {
		return nil, notFound(err, "deposit")
	}
	return &deposit, nil
}

var terminalDepositStatuses = []enums.DepositStatus{enums.DepositStatusReleased, enums.DepositStatusResolved}

func (r *repository) CompareAndSwap(ctx context.Context, id uuid.UUID, expectedVersion int64, next DepositChange) (*models.Deposit, error) {
	if !next.Status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid deposit status %q", next.Status))
	}

	updates := map[string]any{
		"status":     next.Status,
		"version":    gorm.Expr("version + 1"),
		"updated_at": r.now(),
	}
	if next.FundingTxHash != nil {
		updates["funding_tx_hash"] = gorm.Expr("COALESCE(funding_tx_hash, ?)", *next.FundingTxHash)
	}
	if next.FundingSource != nil {
		updates["funding_source"] = gorm.Expr("COALESCE(funding_source, ?)", string(*next.FundingSource))
	}
	if next.DisputeID != nil {
		updates["dispute_id"] = *next.DisputeID
	}
	setOnce(updates, "funded_at", next.FundedAt)
	setOnce(updates, "release_window_ends_at", next.ReleaseWindowEndsAt)
	setOnce(updates, "released_at", next.ReleasedAt)
	setOnce(updates, "resolved_at", next.ResolvedAt)

	res := r.db.WithContext(ctx).
		Model(&models.Deposit{}).
		Where("id = ? AND version = ? AND status NOT IN ?", id, expectedVersion, terminalDepositStatuses).
		Updates(updates)
	if res.Error != nil {
		if db.IsUniqueViolation(res.Error, "ux_deposits_funding_tx", "deposits.funding_tx_hash") {
			return nil, pkgerrors.Wrap(pkgerrors.CodeFundingMismatch, res.Error, "funding transaction already credited to another deposit")
		}
		if db.IsTimeout(res.Error) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeTimeout, res.Error, "deposit update timed out")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, res.Error, "update deposit")
	}

	current, err := r.GetDeposit(ctx, id)
	if err != nil {
		return nil, err
	}
	if res.RowsAffected == 0 {
		if current.Status.IsTerminal() {
			return nil, pkgerrors.New(pkgerrors.CodeInvalidTransition, fmt.Sprintf("deposit is %s", current.Status))
		}
		return nil, pkgerrors.New(pkgerrors.CodeVersionConflict, fmt.Sprintf("deposit version %d is stale (now %d)", expectedVersion, current.Version))
	}
	return current, nil
}

func (r *repository) ExpiredFunded(ctx context.Context, now time.Time, limit int) ([]models.Deposit, error) {
	var deposits []models.Deposit
	q := r.db.WithContext(ctx).
		Where("status = ? AND release_window_ends_at IS NOT NULL AND release_window_ends_at <= ?", enums.DepositStatusFunded, now.UTC()).
		Order("release_window_ends_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&deposits).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list expired deposits")
	}
	return deposits, nil
}

type statusCount struct {
	Status string
	Total  int64
}

func (r *repository) CountDepositsByStatus(ctx context.Context) (map[enums.DepositStatus]int64, error) {
	var rows []statusCount
	if err := r.db.WithContext(ctx).
		Model(&models.Deposit{}).
		Select("status, COUNT(*) AS total").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "count deposits")
	}
	out := make(map[enums.DepositStatus]int64, len(rows))
	for _, row := range rows {
		out[enums.DepositStatus(row.Status)] = row.Total
	}
	return out, nil
}

func (r *repository) CreateDispute(ctx context.Context, dispute *models.Dispute) error {
	if dispute.ID == uuid.Nil {
		dispute.ID = uuid.New()
	}
	if dispute.RaisedAt.IsZero() {
		dispute.RaisedAt = r.now()
	}
	if dispute.Version == 0 {
		dispute.Version = 1
	}
	if err := r.db.WithContext(ctx).Create(dispute).Error; err != nil {
		if db.IsUniqueViolation(err, "ux_disputes_active_deposit", "disputes.deposit_id") {
			return pkgerrors.Wrap(pkgerrors.CodeAlreadyDisputed, err, "deposit already has an active dispute")
		}
		if db.IsUniqueViolation(err) {
			return pkgerrors.Wrap(pkgerrors.CodeDuplicateID, err, "dispute already exists")
		}
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "insert dispute")
	}
	return nil
}

func (r *repository) GetDispute(ctx context.Context, id uuid.UUID) (*models.Dispute, error) {
	var dispute models.Dispute
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&dispute).Error; err != nil {
		return nil, notFound(err, "dispute")
	}
	return &dispute, nil
}

// ActiveDispute returns the open or under-review dispute on a deposit, or nil.
func (r *repository) ActiveDispute(ctx context.Context, depositID uuid.UUID) (*models.Dispute, error) {
	var disputes []models.Dispute
	if err := r.db.WithContext(ctx).
		Where("deposit_id = ? AND status IN ?", depositID, []enums.DisputeStatus{enums.DisputeStatusOpen, enums.DisputeStatusUnderReview}).
		Limit(1).
		Find(&disputes).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load active dispute")
	}
	if len(disputes) == 0 {
		return nil, nil
	}
	return &disputes[0], nil
}

func (r *repository) ListDisputes(ctx context.Context, depositID uuid.UUID) ([]models.Dispute, error) {
	var disputes []models.Dispute
	if err := r.db.WithContext(ctx).
		Where("deposit_id = ?", depositID).
		Order("raised_at ASC").
		Find(&disputes).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list disputes")
	}
	return disputes, nil
}

func (r *repository) CompareAndSwapDispute(ctx context.Context, id uuid.UUID, expectedVersion int64, next DisputeChange) (*models.Dispute, error) {
	if !next.Status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid dispute status %q", next.Status))
	}

	updates := map[string]any{
		"status":  next.Status,
		"version": gorm.Expr("version + 1"),
	}
	if next.Resolution != nil {
		updates["resolution"] = string(*next.Resolution)
	}
	if next.RenterShare != nil {
		updates["renter_share"] = *next.RenterShare
	}
	if next.LandlordShare != nil {
		updates["landlord_share"] = *next.LandlordShare
	}
	if next.Arbiter != nil {
		updates["arbiter"] = *next.Arbiter
	}
	setOnce(updates, "reviewed_at", next.ReviewedAt)
	setOnce(updates, "resolved_at", next.ResolvedAt)

	res := r.db.WithContext(ctx).
		Model(&models.Dispute{}).
		Where("id = ? AND version = ? AND status <> ?", id, expectedVersion, enums.DisputeStatusResolved).
		Updates(updates)
	if res.Error != nil {
		if db.IsTimeout(res.Error) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeTimeout, res.Error, "dispute update timed out")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, res.Error, "update dispute")
	}

	current, err := r.GetDispute(ctx, id)
	if err != nil {
		return nil, err
	}
	if res.RowsAffected == 0 {
		if current.Status == enums.DisputeStatusResolved {
			return nil, pkgerrors.New(pkgerrors.CodeInvalidTransition, "dispute is resolved")
		}
		return nil, pkgerrors.New(pkgerrors.CodeVersionConflict, fmt.Sprintf("dispute version %d is stale (now %d)", expectedVersion, current.Version))
	}
	return current, nil
}

// ScanDisputes streams every dispute row through fn exactly once.
func (r *repository) ScanDisputes(ctx context.Context, fn func(models.Dispute) error) error {
	rows, err := r.db.WithContext(ctx).Model(&models.Dispute{}).Rows()
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "scan disputes")
	}
	defer rows.Close()

	for rows.Next() {
		var dispute models.Dispute
		if err := r.db.ScanRows(rows, &dispute); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decode dispute row")
		}
		if err := fn(dispute); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "scan disputes")
	}
	return nil
}

func (r *repository) InsertPayouts(ctx context.Context, payouts []models.Payout) error {
	if len(payouts) == 0 {
		return nil
	}
	now := r.now()
	for i := range payouts {
		if payouts[i].ID == uuid.Nil {
			payouts[i].ID = uuid.New()
		}
		if payouts[i].CreatedAt.IsZero() {
			payouts[i].CreatedAt = now
		}
		if payouts[i].Status == "" {
			payouts[i].Status = enums.PayoutStatusPending
		}
	}
	if err := r.db.WithContext(ctx).Create(&payouts).Error; err != nil {
		if db.IsUniqueViolation(err) {
			return pkgerrors.Wrap(pkgerrors.CodeDuplicateID, err, "recipient already paid for this deposit")
		}
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "insert payouts")
	}
	return nil
}

func (r *repository) ListPayouts(ctx context.Context, depositID uuid.UUID) ([]models.Payout, error) {
	var payouts []models.Payout
	if err := r.db.WithContext(ctx).
		Where("deposit_id = ?", depositID).
		Order("recipient_role ASC").
		Find(&payouts).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list payouts")
	}
	return payouts, nil
}

func (r *repository) PendingPayouts(ctx context.Context, limit int) ([]models.Payout, error) {
	var payouts []models.Payout
	q := r.db.WithContext(ctx).
		Where("status = ?", enums.PayoutStatusPending).
		Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&payouts).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list pending payouts")
	}
	return payouts, nil
}

// MarkPayoutSettled moves a pending payout to settled. It reports false when
// the payout had already been settled by another worker.
func (r *repository) MarkPayoutSettled(ctx context.Context, id uuid.UUID, txHash string, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Payout{}).
		Where("id = ? AND status = ?", id, enums.PayoutStatusPending).
		Updates(map[string]any{
			"status":     enums.PayoutStatusSettled,
			"tx_hash":    txHash,
			"settled_at": at.UTC(),
			"attempts":   gorm.Expr("attempts + 1"),
			"last_error": nil,
		})
	if res.Error != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeInternal, res.Error, "mark payout settled")
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) MarkPayoutFailed(ctx context.Context, id uuid.UUID, reason string) error {
	res := r.db.WithContext(ctx).
		Model(&models.Payout{}).
		Where("id = ? AND status = ?", id, enums.PayoutStatusPending).
		Updates(map[string]any{
			"attempts":   gorm.Expr("attempts + 1"),
			"last_error": truncate(reason, 500),
		})
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, res.Error, "mark payout failed")
	}
	return nil
}

func setOnce(updates map[string]any, column string, value *time.Time) {
	if value == nil {
		return
	}
	updates[column] = gorm.Expr(fmt.Sprintf("COALESCE(%s, ?)", column), value.UTC())
}

func notFound(err error, entity string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.Wrap(pkgerrors.CodeNotFound, err, entity+" not found")
	}
	if db.IsTimeout(err) {
		return pkgerrors.Wrap(pkgerrors.CodeTimeout, err, "load "+entity+" timed out")
	}
	return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load "+entity)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
