package partner

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/stock-ledger/generic"
)

// Books writes partner ledgers, account balances and payments for one store scope.
type Books struct {
	repo   Repository
	ledger *generic.DefaultLedger
	Now    func() time.Time
}

func NewBooks(repo Repository) *Books {
	return &Books{repo: repo, ledger: generic.NewLedger(repo), Now: time.Now}
}

// WithClock makes the books and their ledger read time from now.
func (b *Books) WithClock(now func() time.Time) *Books {
	b.Now = now
	b.ledger.Now = now
	return b
}

// =============================================================================
// PARTNERS
// =============================================================================

func (b *Books) GetPartner(ctx context.Context, tenant generic.TenantID, id string) (*Partner, error) {
	p, err := b.repo.GetPartner(ctx, tenant, id)
	if err != nil {
		return nil, fmt.Errorf("partner: load %s: %w", id, err)
	}
	if p == nil {
		return nil, &generic.NotFoundError{Kind: "partner", ID: id}
	}
	return p, nil
}

// CreatePartner stores a new partner with a zero balance.
func (b *Books) CreatePartner(ctx context.Context, p *Partner) error {
	if p.Name == "" {
		return generic.NewValidationError("name", "required")
	}
	if !p.Kind.Valid() {
		return generic.NewValidationError("kind", fmt.Sprintf("unknown partner kind %q", p.Kind))
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := b.now()
	p.CurrentBalance = decimal.Zero
	p.CreatedAt, p.UpdatedAt = now, now
	return b.repo.SavePartner(ctx, p)
}

// PostInput is one partner ledger write.
type PostInput struct {
	Type       generic.MovementType
	Debit      decimal.Decimal
	Credit     decimal.Decimal
	DocumentID string
	Remark     string
	Actor      generic.Actor
	At         time.Time
}

// Post appends an entry to the partner's ledger and moves CurrentBalance to
// the entry's balance.
func (b *Books) Post(ctx context.Context, p *Partner, in PostInput) (generic.Entry, error) {
	res, err := b.ledger.Append(ctx, generic.EntryInput{
		Subject:    generic.PartnerSubject(p.Tenant, p.ID),
		Type:       in.Type,
		Credit:     in.Credit,
		Debit:      in.Debit,
		DocumentID: in.DocumentID,
		Actor:      in.Actor,
		Remark:     in.Remark,
		CreatedAt:  in.At,
	})
	if err != nil {
		return generic.Entry{}, err
	}

	expected := p.CurrentBalance.Add(in.Credit).Sub(in.Debit)
	switch {
	case res.Replayed != nil:
		p.CurrentBalance = res.Replayed.FinalBalance
	case !res.Entry.Balance.Equal(expected):
		return generic.Entry{}, &generic.ConsistencyError{
			Subject:  res.Entry.Subject,
			EntryID:  res.Entry.ID,
			What:     "partner balance vs ledger",
			Stored:   expected,
			Expected: res.Entry.Balance,
		}
	default:
		p.CurrentBalance = res.Entry.Balance
	}

	p.UpdatedAt = b.now()
	if err := b.repo.SavePartner(ctx, p); err != nil {
		return generic.Entry{}, fmt.Errorf("partner: save %s: %w", p.ID, err)
	}
	return res.Entry, nil
}

// Ledger returns the partner's entries in ledger order.
func (b *Books) Ledger(ctx context.Context, tenant generic.TenantID, partnerID string) ([]generic.Entry, error) {
	return b.ledger.Entries(ctx, generic.PartnerSubject(tenant, partnerID))
}

// =============================================================================
// ACCOUNTS
// =============================================================================

func (b *Books) GetAccount(ctx context.Context, tenant generic.TenantID, id string) (*Account, error) {
	a, err := b.repo.GetAccount(ctx, tenant, id)
	if err != nil {
		return nil, fmt.Errorf("partner: load account %s: %w", id, err)
	}
	if a == nil {
		return nil, &generic.NotFoundError{Kind: "account", ID: id}
	}
	return a, nil
}

func (b *Books) CreateAccount(ctx context.Context, a *Account) error {
	if a.Name == "" {
		return generic.NewValidationError("name", "required")
	}
	if !a.Type.Valid() {
		return generic.NewValidationError("type", fmt.Sprintf("unknown account type %q", a.Type))
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	now := b.now()
	a.CreatedAt, a.UpdatedAt = now, now
	return b.repo.SaveAccount(ctx, a)
}

// AdjustBalance moves an account balance by a signed amount.
func (b *Books) AdjustBalance(ctx context.Context, tenant generic.TenantID, accountID string, signed decimal.Decimal) (*Account, error) {
	a, err := b.GetAccount(ctx, tenant, accountID)
	if err != nil {
		return nil, err
	}
	a.Balance = a.Balance.Add(signed)
	a.UpdatedAt = b.now()
	if err := b.repo.SaveAccount(ctx, a); err != nil {
		return nil, fmt.Errorf("partner: save account %s: %w", a.ID, err)
	}
	return a, nil
}

// =============================================================================
// PAYMENTS
// =============================================================================

func (b *Books) GetPayment(ctx context.Context, tenant generic.TenantID, id string) (*Payment, error) {
	p, err := b.repo.GetPayment(ctx, tenant, id)
	if err != nil {
		return nil, fmt.Errorf("partner: load payment %s: %w", id, err)
	}
	if p == nil {
		return nil, &generic.NotFoundError{Kind: "payment", ID: id}
	}
	return p, nil
}

// PaymentsForDocument lists payments linked to a document.
func (b *Books) PaymentsForDocument(ctx context.Context, tenant generic.TenantID, documentID string) ([]Payment, error) {
	return b.repo.PaymentsForDocument(ctx, tenant, documentID)
}

// CreatePayment stores a payment. A COMPLETED payment moves its account.
func (b *Books) CreatePayment(ctx context.Context, p *Payment) error {
	if !p.Amount.IsPositive() {
		return generic.NewValidationError("amount", "must be positive")
	}
	if p.Direction != DirectionIn && p.Direction != DirectionOut {
		return generic.NewValidationError("direction", fmt.Sprintf("unknown direction %q", p.Direction))
	}
	if p.Status == "" {
		p.Status = PaymentCompleted
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := b.now()
	p.CreatedAt, p.UpdatedAt = now, now

	if p.Status == PaymentCompleted {
		if _, err := b.AdjustBalance(ctx, p.Tenant, p.AccountID, p.Signed()); err != nil {
			return err
		}
	} else if _, err := b.GetAccount(ctx, p.Tenant, p.AccountID); err != nil {
		return err
	}
	return b.repo.SavePayment(ctx, p)
}

// ChangeAmount updates a payment's amount, moving a COMPLETED payment's
// account by the difference.
func (b *Books) ChangeAmount(ctx context.Context, p *Payment, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return generic.NewValidationError("amount", "must not be negative")
	}
	before := p.Signed()
	p.Amount = amount
	if p.Status == PaymentCompleted {
		if diff := p.Signed().Sub(before); !diff.IsZero() {
			if _, err := b.AdjustBalance(ctx, p.Tenant, p.AccountID, diff); err != nil {
				return err
			}
		}
	}
	p.UpdatedAt = b.now()
	return b.repo.SavePayment(ctx, p)
}

// Settle moves a PENDING payment to COMPLETED and applies it to its account.
func (b *Books) Settle(ctx context.Context, p *Payment) error {
	if p.Status != PaymentPending {
		return &generic.InvalidStateError{DocumentID: p.ID, Status: string(p.Status), Operation: "settle", Reason: "payment is not pending"}
	}
	if _, err := b.AdjustBalance(ctx, p.Tenant, p.AccountID, p.Signed()); err != nil {
		return err
	}
	p.Status = PaymentCompleted
	p.UpdatedAt = b.now()
	return b.repo.SavePayment(ctx, p)
}

// Cancel marks a payment CANCELLED, undoing its account effect if it had one.
func (b *Books) Cancel(ctx context.Context, p *Payment) error {
	if p.Status == PaymentCancelled {
		return nil
	}
	if p.Status == PaymentCompleted {
		if _, err := b.AdjustBalance(ctx, p.Tenant, p.AccountID, p.Signed().Neg()); err != nil {
			return err
		}
	}
	p.Status = PaymentCancelled
	p.UpdatedAt = b.now()
	return b.repo.SavePayment(ctx, p)
}

// =============================================================================
// VERIFY AND REPAIR
// =============================================================================

// Verify checks the partner's running balances and its cached balance.
func (b *Books) Verify(ctx context.Context, tenant generic.TenantID, partnerID string) error {
	p, err := b.GetPartner(ctx, tenant, partnerID)
	if err != nil {
		return err
	}
	subject := generic.PartnerSubject(tenant, partnerID)
	entries, err := b.ledger.Entries(ctx, subject)
	if err != nil {
		return fmt.Errorf("partner: load ledger: %w", err)
	}
	if err := generic.Verify(subject, entries); err != nil {
		return err
	}
	last := decimal.Zero
	var lastID generic.EntryID
	if n := len(entries); n > 0 {
		last, lastID = entries[n-1].Balance, entries[n-1].ID
	}
	if !last.Equal(p.CurrentBalance) {
		return &generic.ConsistencyError{
			Subject:  subject,
			EntryID:  lastID,
			What:     "partner balance vs ledger",
			Stored:   p.CurrentBalance,
			Expected: last,
		}
	}
	return nil
}

// Repair replays the partner ledger from `from` and resets CurrentBalance.
func (b *Books) Repair(ctx context.Context, tenant generic.TenantID, partnerID string, from time.Time) (generic.ReplayResult, error) {
	p, err := b.GetPartner(ctx, tenant, partnerID)
	if err != nil {
		return generic.ReplayResult{}, err
	}
	res, err := generic.Replay(ctx, b.repo, generic.PartnerSubject(tenant, partnerID), from)
	if err != nil {
		return generic.ReplayResult{}, err
	}
	if !p.CurrentBalance.Equal(res.FinalBalance) {
		p.CurrentBalance = res.FinalBalance
		p.UpdatedAt = b.now()
		if err := b.repo.SavePartner(ctx, p); err != nil {
			return res, fmt.Errorf("partner: save %s: %w", p.ID, err)
		}
	}
	return res, nil
}

func (b *Books) now() time.Time {
	if b.Now == nil {
		return time.Now().UTC()
	}
	return b.Now().UTC()
}
