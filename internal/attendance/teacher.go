package attendance

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"chainattend/internal/chain"
	"chainattend/internal/datecode"
	"chainattend/internal/queue"
	"chainattend/internal/session"
	"chainattend/pkg/logger"
)

// TeacherView is what the teacher panel currently shows.
type TeacherView struct {
	Status           string   `json:"status"`
	Students         []string `json:"students"`
	AttendanceResult *bool    `json:"attendance_result"`
	AttendanceDate   string   `json:"attendance_date,omitempty"`
	StudentDates     []string `json:"student_dates"`
}

// Teacher runs teacher actions for one session. Every action performs a
// single contract interaction; writes wait for confirmation.
type Teacher struct {
	sess *session.Session
	rec  recorder
	log  *zap.Logger

	mu   sync.Mutex
	view TeacherView
}

// NewTeacher creates the panel. events may be nil.
func NewTeacher(sess *session.Session, events queue.Publisher, log *zap.Logger) *Teacher {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String(logger.FieldSession, sess.ID), zap.String(logger.FieldRole, string(session.RoleTeacher)))
	return &Teacher{
		sess: sess,
		rec:  recorder{sess: sess, events: events, log: log},
		log:  log,
		view: TeacherView{StudentDates: []string{}},
	}
}

// View returns a copy of the panel state with the session's current roster.
func (t *Teacher) View() TeacherView {
	t.mu.Lock()
	v := t.view
	v.StudentDates = append([]string{}, t.view.StudentDates...)
	t.mu.Unlock()
	v.Students = t.sess.Roster()
	return v
}

func (t *Teacher) update(fn func(v *TeacherView)) {
	t.mu.Lock()
	fn(&t.view)
	t.mu.Unlock()
}

func (t *Teacher) setStatus(s string) {
	t.update(func(v *TeacherView) { v.Status = s })
}

func (t *Teacher) invalid(msg string) error {
	t.setStatus(msg)
	return &ValidationError{Message: msg}
}

func (t *Teacher) failed(op string, err error) error {
	t.setStatus(ErrorStatus(err))
	t.log.Warn("teacher action failed", zap.String(logger.FieldOperation, op), zap.Error(err))
	return err
}

// RegisterStudent registers one address and refreshes the roster.
func (t *Teacher) RegisterStudent(ctx context.Context, account string) (chain.Receipt, error) {
	account = strings.TrimSpace(account)
	if account == "" {
		return chain.Receipt{}, t.invalid("Enter a student address")
	}

	t.setStatus(StatusSending)
	rcpt, err := t.sess.Contract.RegisterStudent(ctx, account)
	t.rec.record(ctx, "registerStudent", []string{account}, rcpt, err)
	if err != nil {
		return rcpt, t.failed("registerStudent", err)
	}
	t.setStatus("Registered successfully")
	t.log.Info("student registered", zap.String(logger.FieldAccount, account), zap.String(logger.FieldTxHash, rcpt.TxHash))

	return rcpt, t.refreshAfterWrite(ctx)
}

// RegisterStudents registers every address in newline-separated text with a
// single batched transaction.
func (t *Teacher) RegisterStudents(ctx context.Context, text string) (chain.Receipt, error) {
	accounts := ParseAddressList(text)
	if len(accounts) == 0 {
		return chain.Receipt{}, t.invalid("Please enter student addresses")
	}

	t.setStatus(StatusSending)
	rcpt, err := t.sess.Contract.RegisterStudents(ctx, accounts)
	t.rec.record(ctx, "registerStudents", accounts, rcpt, err)
	if err != nil {
		return rcpt, t.failed("registerStudents", err)
	}
	t.setStatus(fmt.Sprintf("Registered %d students successfully", len(accounts)))
	t.log.Info("students registered", zap.Int("count", len(accounts)), zap.String(logger.FieldTxHash, rcpt.TxHash))

	return rcpt, t.refreshAfterWrite(ctx)
}

// refreshAfterWrite reloads the roster; a failure replaces the success
// status with the error.
func (t *Teacher) refreshAfterWrite(ctx context.Context) error {
	if _, err := t.sess.RefreshRoster(ctx); err != nil {
		return t.failed("getStudentList", err)
	}
	return nil
}

// MarkAttendance records presence for student on date (YYYY-MM-DD).
func (t *Teacher) MarkAttendance(ctx context.Context, student, date string, present bool) (chain.Receipt, error) {
	student = strings.TrimSpace(student)
	if student == "" {
		return chain.Receipt{}, t.invalid("Select a student")
	}
	dateNum := datecode.Encode(date)

	t.setStatus(StatusSending)
	rcpt, err := t.sess.Contract.MarkAttendance(ctx, dateNum, student, present)
	t.rec.record(ctx, "markAttendance", []string{dateNum.String(), student, fmt.Sprint(present)}, rcpt, err)
	if err != nil {
		return rcpt, t.failed("markAttendance", err)
	}
	if present {
		t.setStatus("Attendance marked as Present")
	} else {
		t.setStatus("Attendance marked as Absent")
	}
	return rcpt, nil
}

// CheckAttendance reports whether student was present on date.
func (t *Teacher) CheckAttendance(ctx context.Context, student, date string) (bool, error) {
	student = strings.TrimSpace(student)
	if student == "" {
		return false, t.invalid("Select a student to check")
	}
	present, err := t.sess.Contract.CheckAttendance(ctx, datecode.Encode(date), student)
	if err != nil {
		t.update(func(v *TeacherView) { v.AttendanceResult = nil })
		return false, t.failed("checkAttendance", err)
	}
	t.update(func(v *TeacherView) {
		v.AttendanceResult = &present
		v.AttendanceDate = date
		v.Status = ""
	})
	return present, nil
}

// CheckRegistration reports whether account is on the roster.
func (t *Teacher) CheckRegistration(ctx context.Context, account string) (bool, error) {
	account = strings.TrimSpace(account)
	if account == "" {
		return false, t.invalid("Enter student address")
	}
	ok, err := t.sess.Contract.IsStudent(ctx, account)
	if err != nil {
		return false, t.failed("isStudent", err)
	}
	state := "not registered"
	if ok {
		state = "registered"
	}
	t.setStatus(fmt.Sprintf("Student %s is %s", account, state))
	return ok, nil
}

// StudentDates lists the dates recorded for student, decoded, in contract
// order.
func (t *Teacher) StudentDates(ctx context.Context, student string) ([]string, error) {
	student = strings.TrimSpace(student)
	if student == "" {
		return nil, t.invalid("Select a student")
	}
	dates, err := t.sess.Contract.AttendanceDates(ctx, student)
	if err != nil {
		t.update(func(v *TeacherView) { v.StudentDates = []string{} })
		return nil, t.failed("getAttendanceDates", err)
	}
	decoded := datecode.DecodeAll(dates)
	t.update(func(v *TeacherView) {
		v.StudentDates = decoded
		v.Status = ""
	})
	return append([]string(nil), decoded...), nil
}

// RefreshRoster re-queries the student list.
func (t *Teacher) RefreshRoster(ctx context.Context) ([]string, error) {
	roster, err := t.sess.RefreshRoster(ctx)
	if err != nil {
		return nil, t.failed("getStudentList", err)
	}
	return roster, nil
}
