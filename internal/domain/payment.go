package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

type RefundStatus string

const (
	RefundStatusPending   RefundStatus = "pending"
	RefundStatusCompleted RefundStatus = "completed"
	RefundStatusFailed    RefundStatus = "failed"
)

type DisputeStatus string

const (
	DisputeStatusOpen        DisputeStatus = "open"
	DisputeStatusUnderReview DisputeStatus = "under_review"
	DisputeStatusWon         DisputeStatus = "won"
	DisputeStatusLost        DisputeStatus = "lost"
)

type Refund struct {
	ID              uuid.UUID    `json:"id"`
	Amount          Money        `json:"amount"`
	Reason          string       `json:"reason"`
	Status          RefundStatus `json:"status"`
	RequestedBy     string       `json:"requested_by"`
	GatewayRefundID string       `json:"gateway_refund_id,omitempty"`
	RequestedAt     time.Time    `json:"requested_at"`
	ProcessedAt     *time.Time   `json:"processed_at,omitempty"`
}

type Dispute struct {
	ID         uuid.UUID     `json:"id"`
	Reason     string        `json:"reason"`
	Status     DisputeStatus `json:"status"`
	Amount     Money         `json:"amount"`
	DueDate    *time.Time    `json:"due_date,omitempty"`
	OpenedAt   time.Time     `json:"opened_at"`
	ResolvedAt *time.Time    `json:"resolved_at,omitempty"`
}

type Fees struct {
	Gateway    Money `json:"gateway"`
	Platform   Money `json:"platform"`
	Processing Money `json:"processing"`
}

// Distribution splits the collected amount between the platform and the
// vendors, derived from the order's vendorAmounts.
type Distribution struct {
	Platform Money `json:"platform"`
	Vendors  Money `json:"vendors"`
}

type PaymentStatusEntry struct {
	Status PaymentStatus `json:"status"`
	Actor  string        `json:"actor"`
	Note   string        `json:"note,omitempty"`
	At     time.Time     `json:"at"`
}

type Payment struct {
	ID          uuid.UUID `json:"id"`
	OrderID     uuid.UUID `json:"order_id"`
	GatewayTxID *string   `json:"gateway_tx_id,omitempty"`
	Method      string    `json:"method"`

	// Amount is the collected amount; immutable once captured except that a
	// partial capture re-points it at the captured portion, the released
	// remainder is kept in AuthorizedAmount for audit.
	Amount           Money `json:"amount"`
	AuthorizedAmount Money `json:"authorized_amount"`

	Status   PaymentStatus        `json:"status"`
	History  []PaymentStatusEntry `json:"history"`
	Refunds  []Refund             `json:"refunds,omitempty"`
	Disputes []Dispute            `json:"disputes,omitempty"`

	Fees         Fees         `json:"fees"`
	Distribution Distribution `json:"distribution"`

	Version int64 `json:"version"`

	CapturedAt  *time.Time `json:"captured_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func NewPayment(orderID uuid.UUID, amount Money, method string, now time.Time) (Payment, error) {
	var p Payment

	if orderID == uuid.Nil {
		return p, ValidationError{Field: "orderID", Reason: "must not be empty"}
	}
	if !amount.IsPositive() {
		return p, ValidationError{Field: "amount", Reason: "must be positive"}
	}
	if method == "" {
		return p, ValidationError{Field: "method", Reason: "must not be empty"}
	}

	return Payment{
		ID:      uuid.New(),
		OrderID: orderID,
		Method:  method,
		Amount:  amount,
		Status:  PaymentStatusPending,
		History: []PaymentStatusEntry{
			{Status: PaymentStatusPending, Actor: "system", Note: "payment created", At: now},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (p *Payment) transition(to PaymentStatus, actor, note string, now time.Time) error {
	if !p.Status.CanTransitionTo(to) {
		return transitionNotAllowed("payment", string(p.Status), string(to))
	}

	p.Status = to
	p.History = append(p.History, PaymentStatusEntry{Status: to, Actor: actor, Note: note, At: now})
	p.UpdatedAt = now
	return nil
}

func (p *Payment) MarkProcessing(actor string, now time.Time) error {
	return p.transition(PaymentStatusProcessing, actor, "sent to gateway", now)
}

// Authorize records a gateway authorization hold for the full amount.
func (p *Payment) Authorize(gatewayTxID, actor string, now time.Time) error {
	if gatewayTxID == "" {
		return ValidationError{Field: "gatewayTxID", Reason: "must not be empty"}
	}

	if err := p.transition(PaymentStatusAuthorized, actor, "authorized", now); err != nil {
		return err
	}

	p.GatewayTxID = &gatewayTxID
	p.AuthorizedAmount = p.Amount
	return nil
}

// Capture converts the hold into a collected amount. Capturing less than
// the authorization releases the remainder permanently.
func (p *Payment) Capture(amount Money, actor string, now time.Time) error {
	if p.Status != PaymentStatusAuthorized {
		return transitionNotAllowed("payment", string(p.Status), string(PaymentStatusCaptured))
	}
	if !amount.IsPositive() {
		return ValidationError{Field: "amount", Reason: "must be positive"}
	}

	cmp, err := amount.Cmp(p.AuthorizedAmount)
	if err != nil {
		return fmt.Errorf("amount.Cmp: %w", err)
	}
	if cmp > 0 {
		return ValidationError{
			Field:  "amount",
			Reason: fmt.Sprintf("capture %s exceeds authorized %s", amount, p.AuthorizedAmount),
		}
	}

	note := "captured"
	if cmp < 0 {
		note = fmt.Sprintf("partial capture %s of %s, remainder released", amount, p.AuthorizedAmount)
	}

	if err := p.transition(PaymentStatusCaptured, actor, note, now); err != nil {
		return err
	}

	p.Amount = amount
	p.CapturedAt = &now
	return nil
}

// Complete marks the money as collected. For instant-capture methods the
// gateway transaction id arrives with the success webhook.
func (p *Payment) Complete(gatewayTxID, actor string, now time.Time) error {
	if err := p.transition(PaymentStatusCompleted, actor, "completed", now); err != nil {
		return err
	}

	if p.GatewayTxID == nil && gatewayTxID != "" {
		p.GatewayTxID = &gatewayTxID
	}
	p.CompletedAt = &now
	return nil
}

func (p *Payment) Fail(actor, note string, now time.Time) error {
	return p.transition(PaymentStatusFailed, actor, note, now)
}

// Void cancels the payment before capture; irreversible.
func (p *Payment) Void(actor string, now time.Time) error {
	if !p.Status.preCapture() {
		return InvariantViolation{
			Rule:   "void after capture",
			Detail: fmt.Sprintf("payment is %s", p.Status),
		}
	}

	return p.transition(PaymentStatusCancelled, actor, "voided", now)
}

func (p *Payment) Expire(actor string, now time.Time) error {
	return p.transition(PaymentStatusExpired, actor, "expired", now)
}

func (p Payment) TotalCompletedRefunds() Money {
	total := ZeroMoney(p.Amount.Currency)
	for _, r := range p.Refunds {
		if r.Status != RefundStatusCompleted {
			continue
		}
		total, _ = total.Add(r.Amount)
	}
	return total
}

func (p Payment) RefundableAmount() Money {
	remaining, err := p.Amount.Sub(p.TotalCompletedRefunds())
	if err != nil {
		return ZeroMoney(p.Amount.Currency)
	}
	return remaining
}

// HasOpenDispute reports whether refunds are frozen: any open or
// under-review dispute blocks all new refunds until resolved.
func (p Payment) HasOpenDispute() bool {
	return lo.SomeBy(p.Disputes, func(d Dispute) bool {
		return d.Status == DisputeStatusOpen || d.Status == DisputeStatusUnderReview
	})
}

// AddRefund appends a pending refund after the conservation checks:
// the amount must fit into the still-refundable remainder and no dispute
// may be open.
func (p *Payment) AddRefund(amount Money, reason, requestedBy string, now time.Time) (Refund, error) {
	var r Refund

	if p.Status != PaymentStatusCompleted && p.Status != PaymentStatusPartiallyRefunded {
		return r, InvariantViolation{
			Rule:   "payment not refundable",
			Detail: fmt.Sprintf("payment is %s", p.Status),
		}
	}
	if p.HasOpenDispute() {
		return r, InvariantViolation{
			Rule:   "dispute locked",
			Detail: "refunds are frozen while a dispute is open",
		}
	}
	if !amount.IsPositive() {
		return r, ValidationError{Field: "amount", Reason: "must be positive"}
	}

	refundable := p.RefundableAmount()
	cmp, err := amount.Cmp(refundable)
	if err != nil {
		return r, fmt.Errorf("amount.Cmp: %w", err)
	}
	if cmp > 0 {
		return r, ValidationError{
			Field:  "amount",
			Reason: fmt.Sprintf("refund %s exceeds refundable %s", amount, refundable),
		}
	}

	r = Refund{
		ID:          uuid.New(),
		Amount:      amount,
		Reason:      reason,
		Status:      RefundStatusPending,
		RequestedBy: requestedBy,
		RequestedAt: now,
	}

	p.Refunds = append(p.Refunds, r)
	p.UpdatedAt = now
	return r, nil
}

func (p *Payment) RefundByID(refundID uuid.UUID) (*Refund, error) {
	for i := range p.Refunds {
		if p.Refunds[i].ID == refundID {
			return &p.Refunds[i], nil
		}
	}
	return nil, ValidationError{Field: "refundID", Reason: fmt.Sprintf("no refund %s", refundID)}
}

// CompleteRefund marks a refund settled and derives the ratio status.
// Completing an already-completed refund is a no-op returning the prior
// result, never a double refund.
func (p *Payment) CompleteRefund(refundID uuid.UUID, gatewayRefundID, actor string, now time.Time) (Refund, error) {
	refund, err := p.RefundByID(refundID)
	if err != nil {
		return Refund{}, err
	}

	if refund.Status == RefundStatusCompleted {
		return *refund, nil
	}
	if refund.Status != RefundStatusPending {
		return Refund{}, InvariantViolation{
			Rule:   "refund not pending",
			Detail: fmt.Sprintf("refund %s is %s", refundID, refund.Status),
		}
	}

	refund.Status = RefundStatusCompleted
	refund.GatewayRefundID = gatewayRefundID
	refund.ProcessedAt = &now
	p.UpdatedAt = now

	if err := p.applyRefundRatio(actor, now); err != nil {
		return Refund{}, fmt.Errorf("p.applyRefundRatio: %w", err)
	}

	return *refund, nil
}

func (p *Payment) FailRefund(refundID uuid.UUID, note string, now time.Time) (Refund, error) {
	refund, err := p.RefundByID(refundID)
	if err != nil {
		return Refund{}, err
	}

	if refund.Status != RefundStatusPending {
		return Refund{}, InvariantViolation{
			Rule:   "refund not pending",
			Detail: fmt.Sprintf("refund %s is %s", refundID, refund.Status),
		}
	}

	refund.Status = RefundStatusFailed
	refund.Reason = refund.Reason + "; failed: " + note
	refund.ProcessedAt = &now
	p.UpdatedAt = now
	return *refund, nil
}

// applyRefundRatio moves the payment to refunded / partially_refunded based
// on totalRefunded vs the collected amount.
func (p *Payment) applyRefundRatio(actor string, now time.Time) error {
	total := p.TotalCompletedRefunds()
	if !total.IsPositive() {
		return nil
	}

	cmp, err := total.Cmp(p.Amount)
	if err != nil {
		return fmt.Errorf("total.Cmp: %w", err)
	}

	target := PaymentStatusPartiallyRefunded
	if cmp >= 0 {
		target = PaymentStatusRefunded
	}

	if p.Status == target {
		return nil
	}

	return p.transition(target, actor, fmt.Sprintf("refunded %s of %s", total, p.Amount), now)
}

// OpenDispute freezes the payment pending an external decision.
func (p *Payment) OpenDispute(reason string, amount Money, dueDate *time.Time, actor string, now time.Time) (Dispute, error) {
	var d Dispute

	if !amount.IsPositive() {
		return d, ValidationError{Field: "amount", Reason: "must be positive"}
	}
	cmp, err := amount.Cmp(p.Amount)
	if err != nil {
		return d, fmt.Errorf("amount.Cmp: %w", err)
	}
	if cmp > 0 {
		return d, ValidationError{
			Field:  "amount",
			Reason: fmt.Sprintf("dispute %s exceeds payment %s", amount, p.Amount),
		}
	}

	if err := p.transition(PaymentStatusDisputed, actor, "dispute opened: "+reason, now); err != nil {
		return d, err
	}

	d = Dispute{
		ID:       uuid.New(),
		Reason:   reason,
		Status:   DisputeStatusOpen,
		Amount:   amount,
		DueDate:  dueDate,
		OpenedAt: now,
	}

	p.Disputes = append(p.Disputes, d)
	return d, nil
}

func (p *Payment) DisputeByID(disputeID uuid.UUID) (*Dispute, error) {
	for i := range p.Disputes {
		if p.Disputes[i].ID == disputeID {
			return &p.Disputes[i], nil
		}
	}
	return nil, ValidationError{Field: "disputeID", Reason: fmt.Sprintf("no dispute %s", disputeID)}
}

func (p *Payment) MarkDisputeUnderReview(disputeID uuid.UUID, now time.Time) error {
	dispute, err := p.DisputeByID(disputeID)
	if err != nil {
		return err
	}

	if dispute.Status != DisputeStatusOpen {
		return InvariantViolation{
			Rule:   "dispute not open",
			Detail: fmt.Sprintf("dispute %s is %s", disputeID, dispute.Status),
		}
	}

	dispute.Status = DisputeStatusUnderReview
	p.UpdatedAt = now
	return nil
}

// ResolveDispute applies the external administrative decision. A won
// dispute returns the payment to completed; a lost dispute records the
// chargeback as a completed refund and derives the ratio status.
func (p *Payment) ResolveDispute(disputeID uuid.UUID, won bool, actor string, now time.Time) error {
	dispute, err := p.DisputeByID(disputeID)
	if err != nil {
		return err
	}

	if dispute.Status != DisputeStatusOpen && dispute.Status != DisputeStatusUnderReview {
		return InvariantViolation{
			Rule:   "dispute already resolved",
			Detail: fmt.Sprintf("dispute %s is %s", disputeID, dispute.Status),
		}
	}

	dispute.ResolvedAt = &now

	if won {
		dispute.Status = DisputeStatusWon
		return p.transition(PaymentStatusCompleted, actor, "dispute won", now)
	}

	dispute.Status = DisputeStatusLost

	chargeback := dispute.Amount
	refundable := p.RefundableAmount()
	if cmp, err := chargeback.Cmp(refundable); err == nil && cmp > 0 {
		chargeback = refundable
	}

	p.Refunds = append(p.Refunds, Refund{
		ID:          uuid.New(),
		Amount:      chargeback,
		Reason:      "dispute lost: " + dispute.Reason,
		Status:      RefundStatusCompleted,
		RequestedBy: actor,
		RequestedAt: now,
		ProcessedAt: &now,
	})

	total := p.TotalCompletedRefunds()
	target := PaymentStatusPartiallyRefunded
	if cmp, err := total.Cmp(p.Amount); err == nil && cmp >= 0 {
		target = PaymentStatusRefunded
	}

	return p.transition(target, actor, "dispute lost, chargeback "+chargeback.String(), now)
}

func (p *Payment) ApplyFees(fees Fees, now time.Time) {
	p.Fees = fees
	p.UpdatedAt = now
}

func (p *Payment) ApplyDistribution(platform, vendors Money, now time.Time) {
	p.Distribution = Distribution{Platform: platform, Vendors: vendors}
	p.UpdatedAt = now
}

func (p Payment) Summary() PaymentSummary {
	paid := ZeroMoney(p.Amount.Currency)
	switch p.Status {
	case PaymentStatusCompleted, PaymentStatusRefunded, PaymentStatusPartiallyRefunded, PaymentStatusDisputed:
		paid = p.Amount
	}

	return PaymentSummary{
		PaymentID:  p.ID,
		Method:     p.Method,
		Status:     p.Status,
		PaidAmount: paid,
	}
}

// CheckInvariants verifies refund conservation on a loaded aggregate.
func (p Payment) CheckInvariants() error {
	total := p.TotalCompletedRefunds()

	cmp, err := total.Cmp(p.Amount)
	if err != nil {
		return fmt.Errorf("total.Cmp: %w", err)
	}
	if cmp > 0 {
		return InvariantViolation{
			Rule:   "refunds exceed payment",
			Detail: fmt.Sprintf("completed refunds %s > amount %s", total, p.Amount),
		}
	}

	return nil
}
