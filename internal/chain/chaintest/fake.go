// Package chaintest provides an in-memory chain.Contract for tests.
package chaintest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"chainattend/internal/chain"
	"chainattend/internal/datecode"
)

// Call is one recorded contract invocation.
type Call struct {
	Method string
	Args   []interface{}
}

// Fake mimics the attendance contract. Only the teacher may write; students
// are tracked by lower-cased address.
type Fake struct {
	mu sync.Mutex

	TeacherAddr string
	Signer      string

	roster   []string
	dates    map[string][]datecode.Number
	presence map[string]map[datecode.Number]bool
	blocks   uint64

	// Err, when set, is returned by every call. FailOn overrides per method.
	Err    error
	FailOn map[string]error

	calls []Call
}

// NewFake returns a contract whose teacher is teacher and whose handle signs
// as teacher.
func NewFake(teacher string, students ...string) *Fake {
	f := &Fake{
		TeacherAddr: teacher,
		Signer:      teacher,
		dates:       map[string][]datecode.Number{},
		presence:    map[string]map[datecode.Number]bool{},
		FailOn:      map[string]error{},
	}
	f.roster = append(f.roster, students...)
	return f
}

// As returns a handle to the same contract state signing as account.
func (f *Fake) As(account string) *Handle {
	return &Handle{Fake: f, signer: account}
}

// Record sets presence directly, bypassing access control.
func (f *Fake) Record(account string, date datecode.Number, present bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(account, date, present)
}

func (f *Fake) record(account string, date datecode.Number, present bool) {
	key := strings.ToLower(account)
	if f.presence[key] == nil {
		f.presence[key] = map[datecode.Number]bool{}
	}
	if _, seen := f.presence[key][date]; !seen {
		f.dates[key] = append(f.dates[key], date)
	}
	f.presence[key][date] = present
}

// Calls returns a copy of the recorded calls.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// CallsTo returns the recorded calls of one method.
func (f *Fake) CallsTo(method string) []Call {
	var out []Call
	for _, c := range f.Calls() {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

func (f *Fake) begin(method string, args ...interface{}) error {
	f.calls = append(f.calls, Call{Method: method, Args: args})
	if err, ok := f.FailOn[method]; ok {
		return err
	}
	return f.Err
}

func (f *Fake) isStudent(account string) bool {
	for _, s := range f.roster {
		if strings.EqualFold(s, account) {
			return true
		}
	}
	return false
}

func (f *Fake) receipt() chain.Receipt {
	f.blocks++
	return chain.Receipt{
		TxHash:      fmt.Sprintf("0x%064x", f.blocks),
		BlockNumber: f.blocks,
		GasUsed:     21000,
		Status:      1,
	}
}

func (f *Fake) Teacher(ctx context.Context) (string, error) {
	return f.As(f.Signer).Teacher(ctx)
}

func (f *Fake) StudentList(ctx context.Context) ([]string, error) {
	return f.As(f.Signer).StudentList(ctx)
}

func (f *Fake) IsStudent(ctx context.Context, account string) (bool, error) {
	return f.As(f.Signer).IsStudent(ctx, account)
}

func (f *Fake) CheckAttendance(ctx context.Context, date datecode.Number, account string) (bool, error) {
	return f.As(f.Signer).CheckAttendance(ctx, date, account)
}

func (f *Fake) AttendanceDates(ctx context.Context, account string) ([]datecode.Number, error) {
	return f.As(f.Signer).AttendanceDates(ctx, account)
}

func (f *Fake) RegisterStudent(ctx context.Context, account string) (chain.Receipt, error) {
	return f.As(f.Signer).RegisterStudent(ctx, account)
}

func (f *Fake) RegisterStudents(ctx context.Context, accounts []string) (chain.Receipt, error) {
	return f.As(f.Signer).RegisterStudents(ctx, accounts)
}

func (f *Fake) MarkAttendance(ctx context.Context, date datecode.Number, account string, present bool) (chain.Receipt, error) {
	return f.As(f.Signer).MarkAttendance(ctx, date, account, present)
}

// Handle is a view of a Fake bound to one signer.
type Handle struct {
	*Fake
	signer string
}

func (h *Handle) Teacher(ctx context.Context) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.begin("teacher"); err != nil {
		return "", err
	}
	return h.TeacherAddr, nil
}

func (h *Handle) StudentList(ctx context.Context) ([]string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.begin("getStudentList"); err != nil {
		return nil, err
	}
	return append([]string(nil), h.roster...), nil
}

func (h *Handle) IsStudent(ctx context.Context, account string) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.begin("isStudent", account); err != nil {
		return false, err
	}
	return h.isStudent(account), nil
}

func (h *Handle) CheckAttendance(ctx context.Context, date datecode.Number, account string) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.begin("checkAttendance", date, account); err != nil {
		return false, err
	}
	return h.presence[strings.ToLower(account)][date], nil
}

func (h *Handle) AttendanceDates(ctx context.Context, account string) ([]datecode.Number, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.begin("getAttendanceDates", account); err != nil {
		return nil, err
	}
	return append([]datecode.Number(nil), h.dates[strings.ToLower(account)]...), nil
}

func (h *Handle) RegisterStudent(ctx context.Context, account string) (chain.Receipt, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.begin("registerStudent", account); err != nil {
		return chain.Receipt{}, err
	}
	if err := h.onlyTeacher(); err != nil {
		return chain.Receipt{}, err
	}
	if !h.isStudent(account) {
		h.roster = append(h.roster, account)
	}
	return h.receipt(), nil
}

func (h *Handle) RegisterStudents(ctx context.Context, accounts []string) (chain.Receipt, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.begin("registerStudents", append([]string(nil), accounts...)); err != nil {
		return chain.Receipt{}, err
	}
	if err := h.onlyTeacher(); err != nil {
		return chain.Receipt{}, err
	}
	for _, a := range accounts {
		if !h.isStudent(a) {
			h.roster = append(h.roster, a)
		}
	}
	return h.receipt(), nil
}

func (h *Handle) MarkAttendance(ctx context.Context, date datecode.Number, account string, present bool) (chain.Receipt, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.begin("markAttendance", date, account, present); err != nil {
		return chain.Receipt{}, err
	}
	if err := h.onlyTeacher(); err != nil {
		return chain.Receipt{}, err
	}
	h.record(account, date, present)
	return h.receipt(), nil
}

func (h *Handle) onlyTeacher() error {
	if !strings.EqualFold(h.signer, h.TeacherAddr) {
		return fmt.Errorf("%w: only teacher", chain.ErrReverted)
	}
	return nil
}

// Dialer hands out Handles of one Fake.
type Dialer struct {
	Fake *Fake
	Err  error

	mu     sync.Mutex
	dialed []string
}

func (d *Dialer) Dial(account string) (chain.Contract, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dialed = append(d.dialed, account)
	if d.Err != nil {
		return nil, d.Err
	}
	return d.Fake.As(account), nil
}

// Dialed lists the accounts Dial was called with.
func (d *Dialer) Dialed() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.dialed...)
}
