package processor

import (
	"context"
	"fmt"
	"sync"
)

// Fake is an in-memory Client used by tests and PROCESSOR_MODE=fake. Calls carrying an
// idempotency key that was already seen return the first result without side effects.
type Fake struct {
	mu sync.Mutex

	// HoldStatusOnCreate is the status new holds start in.
	HoldStatusOnCreate HoldStatus
	// CaptureFee is reported as the processor fee on every capture.
	CaptureFee int64

	seq          int
	holds        map[string]*Hold
	accounts     map[string]AccountSnapshot
	transfers    []TransferRequest
	transferRefs []string // parallel to transfers
	refunds      []RefundRequest
	seen         map[string]any
	failures     map[string][]error
	calls        map[string]int
}

func NewFake() *Fake {
	return &Fake{
		HoldStatusOnCreate: HoldAuthorized,
		holds:              make(map[string]*Hold),
		accounts:           make(map[string]AccountSnapshot),
		seen:               make(map[string]any),
		failures:           make(map[string][]error),
		calls:              make(map[string]int),
	}
}

// FailNext queues errors returned by the next calls of op, one per call.
func (f *Fake) FailNext(op string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[op] = append(f.failures[op], errs...)
}

func (f *Fake) SetAccount(snap AccountSnapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accounts[snap.ID] = snap
}

func (f *Fake) SetHoldStatus(ref string, status HoldStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if h, ok := f.holds[ref]; ok {
		h.Status = status
	}
}

func (f *Fake) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *Fake) Transfers() []TransferRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]TransferRequest(nil), f.transfers...)
}

func (f *Fake) Refunds() []RefundRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]RefundRequest(nil), f.refunds...)
}

// begin records the call and pops a queued failure. Caller holds f.mu.
func (f *Fake) begin(op string) error {
	f.calls[op]++
	if q := f.failures[op]; len(q) > 0 {
		f.failures[op] = q[1:]
		return q[0]
	}
	return nil
}

func (f *Fake) next(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s_fake_%d", prefix, f.seq)
}

func (f *Fake) CreateHold(ctx context.Context, req HoldRequest, idempotencyKey string) (Hold, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("create_hold"); err != nil {
		return Hold{}, err
	}
	if v, ok := f.seen[idempotencyKey]; ok && idempotencyKey != "" {
		return *f.holds[v.(string)], nil
	}
	h := &Hold{Ref: f.next("pi"), Status: f.HoldStatusOnCreate, Amount: req.Amount}
	f.holds[h.Ref] = h
	if idempotencyKey != "" {
		f.seen[idempotencyKey] = h.Ref
	}
	return *h, nil
}

func (f *Fake) GetHold(ctx context.Context, ref string) (Hold, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("get_hold"); err != nil {
		return Hold{}, err
	}
	h, ok := f.holds[ref]
	if !ok {
		return Hold{}, &Error{Op: "get_hold", Code: "resource_missing"}
	}
	return *h, nil
}

func (f *Fake) CaptureHold(ctx context.Context, ref, idempotencyKey string) (Capture, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("capture_hold"); err != nil {
		return Capture{}, err
	}
	if v, ok := f.seen[idempotencyKey]; ok && idempotencyKey != "" {
		return v.(Capture), nil
	}
	h, ok := f.holds[ref]
	if !ok {
		return Capture{}, &Error{Op: "capture_hold", Code: "resource_missing"}
	}
	if h.Status != HoldAuthorized {
		return Capture{}, &Error{Op: "capture_hold", Code: "payment_intent_unexpected_state", Message: string(h.Status)}
	}
	h.Status = HoldCaptured
	h.ChargeID = f.next("ch")
	c := Capture{Ref: ref, ChargeID: h.ChargeID, ProcessorFee: f.CaptureFee}
	if idempotencyKey != "" {
		f.seen[idempotencyKey] = c
	}
	return c, nil
}

func (f *Fake) CancelHold(ctx context.Context, ref, reason, idempotencyKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("cancel_hold"); err != nil {
		return err
	}
	if _, ok := f.seen[idempotencyKey]; ok && idempotencyKey != "" {
		return nil
	}
	h, ok := f.holds[ref]
	if !ok {
		return &Error{Op: "cancel_hold", Code: "resource_missing"}
	}
	if h.Status == HoldCaptured {
		return &Error{Op: "cancel_hold", Code: "payment_intent_unexpected_state", Message: string(h.Status)}
	}
	h.Status = HoldCanceled
	if idempotencyKey != "" {
		f.seen[idempotencyKey] = true
	}
	return nil
}

func (f *Fake) CreateTransfer(ctx context.Context, req TransferRequest) (Transfer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("create_transfer"); err != nil {
		return Transfer{}, err
	}
	if v, ok := f.seen[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		return v.(Transfer), nil
	}
	t := Transfer{Ref: f.next("tr"), Amount: req.Amount}
	f.transfers = append(f.transfers, req)
	f.transferRefs = append(f.transferRefs, t.Ref)
	if req.IdempotencyKey != "" {
		f.seen[req.IdempotencyKey] = t
	}
	return t, nil
}

func (f *Fake) FindTransfer(ctx context.Context, group string) (Transfer, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("find_transfer"); err != nil {
		return Transfer{}, false, err
	}
	for i, req := range f.transfers {
		if req.Group == group {
			return Transfer{Ref: f.transferRefs[i], Amount: req.Amount}, true, nil
		}
	}
	return Transfer{}, false, nil
}

func (f *Fake) CreateRefund(ctx context.Context, req RefundRequest) (Refund, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("create_refund"); err != nil {
		return Refund{}, err
	}
	if v, ok := f.seen[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		return v.(Refund), nil
	}
	r := Refund{Ref: f.next("re")}
	f.refunds = append(f.refunds, req)
	if req.IdempotencyKey != "" {
		f.seen[req.IdempotencyKey] = r
	}
	return r, nil
}

func (f *Fake) GetAccount(ctx context.Context, accountID string) (AccountSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("get_account"); err != nil {
		return AccountSnapshot{}, err
	}
	snap, ok := f.accounts[accountID]
	if !ok {
		return AccountSnapshot{}, &Error{Op: "get_account", Code: "account_invalid"}
	}
	return snap, nil
}
