package attendance

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"chainattend/internal/datecode"
	"chainattend/internal/session"
	"chainattend/pkg/logger"
)

// NotRegisteredMessage is shown when a student account is not on the roster.
const NotRegisteredMessage = "You are not registered as a student. Ask your teacher to register this address."

// Record is one day of a student's attendance.
type Record struct {
	DateNumber datecode.Number `json:"date_number"`
	Date       string          `json:"date"`
	Present    bool            `json:"present"`
}

// Summary is derived from the last loaded detailed history.
type Summary struct {
	Total    int     `json:"total"`
	Present  int     `json:"present"`
	Absent   int     `json:"absent"`
	Rate     float64 `json:"rate"`
	RateText string  `json:"rate_text"`
}

// Summarize counts presence over records. Rate is a percentage rounded to
// one decimal place.
func Summarize(records []Record) Summary {
	s := Summary{Total: len(records)}
	for _, r := range records {
		if r.Present {
			s.Present++
		}
	}
	s.Absent = s.Total - s.Present
	if s.Total > 0 {
		s.Rate = math.Round(float64(s.Present)*1000/float64(s.Total)) / 10
	}
	s.RateText = fmt.Sprintf("%.1f%%", s.Rate)
	return s
}

// StudentView is what the student panel currently shows.
type StudentView struct {
	Status       string   `json:"status"`
	Account      string   `json:"account"`
	Registered   *bool    `json:"registered"`
	TodayPresent *bool    `json:"today_present"`
	CheckedDate  string   `json:"checked_date,omitempty"`
	DatePresent  *bool    `json:"date_present"`
	History      []string `json:"history"`
	Records      []Record `json:"records"`
	Summary      Summary  `json:"summary"`
}

// Student runs the read-only student actions for the session's own account.
type Student struct {
	sess        *session.Session
	concurrency int
	log         *zap.Logger
	nowFunc     func() time.Time

	mu         sync.Mutex
	registered *bool
	view       StudentView
	records    []Record
}

// NewStudent creates the panel. concurrency bounds the parallel per-date
// queries of LoadDetailed.
func NewStudent(sess *session.Session, concurrency int, log *zap.Logger) *Student {
	if concurrency <= 0 {
		concurrency = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Student{
		sess:        sess,
		concurrency: concurrency,
		log:         log.With(zap.String(logger.FieldSession, sess.ID), zap.String(logger.FieldRole, string(session.RoleStudent))),
		nowFunc:     time.Now,
		view:        StudentView{Account: sess.Account, History: []string{}, Records: []Record{}},
	}
}

// View returns a copy of the panel state.
func (s *Student) View() StudentView {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.view
	v.Registered = s.registered
	v.History = append([]string{}, s.view.History...)
	v.Records = append([]Record{}, s.view.Records...)
	v.Summary = Summarize(s.records)
	return v
}

func (s *Student) update(fn func(v *StudentView)) {
	s.mu.Lock()
	fn(&s.view)
	s.mu.Unlock()
}

func (s *Student) failed(op string, err error) error {
	s.update(func(v *StudentView) { v.Status = ErrorStatus(err) })
	s.log.Warn("student action failed", zap.String(logger.FieldOperation, op), zap.Error(err))
	return err
}

// CheckRegistration queries whether the account is on the roster.
func (s *Student) CheckRegistration(ctx context.Context) (bool, error) {
	ok, err := s.sess.Contract.IsStudent(ctx, s.sess.Account)
	if err != nil {
		return false, s.failed("isStudent", err)
	}
	s.mu.Lock()
	s.registered = &ok
	if ok {
		s.view.Status = ""
	} else {
		s.view.Status = NotRegisteredMessage
	}
	s.mu.Unlock()
	return ok, nil
}

// requireRegistered gates every other action on registration, checking it
// first if it is not known yet.
func (s *Student) requireRegistered(ctx context.Context) error {
	s.mu.Lock()
	known := s.registered
	s.mu.Unlock()

	ok := false
	if known != nil {
		ok = *known
	} else {
		var err error
		if ok, err = s.CheckRegistration(ctx); err != nil {
			return err
		}
	}
	if !ok {
		s.update(func(v *StudentView) { v.Status = NotRegisteredMessage })
		return ErrNotRegistered
	}
	return nil
}

// CheckToday reports presence for the current UTC date.
func (s *Student) CheckToday(ctx context.Context) (bool, error) {
	if err := s.requireRegistered(ctx); err != nil {
		return false, err
	}
	today := datecode.Today(s.nowFunc())
	present, err := s.sess.Contract.CheckAttendance(ctx, datecode.Encode(today), s.sess.Account)
	if err != nil {
		return false, s.failed("checkAttendance", err)
	}
	s.update(func(v *StudentView) {
		v.TodayPresent = &present
		v.Status = ""
	})
	return present, nil
}

// CheckDate reports presence for date (YYYY-MM-DD).
func (s *Student) CheckDate(ctx context.Context, date string) (bool, error) {
	date = strings.TrimSpace(date)
	if date == "" {
		msg := "Select a date"
		s.update(func(v *StudentView) { v.Status = msg })
		return false, &ValidationError{Message: msg}
	}
	if err := s.requireRegistered(ctx); err != nil {
		return false, err
	}
	present, err := s.sess.Contract.CheckAttendance(ctx, datecode.Encode(date), s.sess.Account)
	if err != nil {
		return false, s.failed("checkAttendance", err)
	}
	s.update(func(v *StudentView) {
		v.CheckedDate = date
		v.DatePresent = &present
		v.Status = ""
	})
	return present, nil
}

func (s *Student) sortedDates(ctx context.Context) ([]datecode.Number, error) {
	dates, err := s.sess.Contract.AttendanceDates(ctx, s.sess.Account)
	if err != nil {
		return nil, err
	}
	datecode.SortDescending(dates)
	return dates, nil
}

// LoadHistory lists every date with a record, most recent first.
func (s *Student) LoadHistory(ctx context.Context) ([]string, error) {
	if err := s.requireRegistered(ctx); err != nil {
		return nil, err
	}
	dates, err := s.sortedDates(ctx)
	if err != nil {
		return nil, s.failed("getAttendanceDates", err)
	}
	history := datecode.DecodeAll(dates)
	s.update(func(v *StudentView) {
		v.History = history
		v.Status = ""
	})
	return append([]string(nil), history...), nil
}

// LoadDetailed resolves presence for every recorded date, issuing the
// per-date queries through a pool of at most concurrency workers. Records
// are returned most recent first.
func (s *Student) LoadDetailed(ctx context.Context) ([]Record, error) {
	if err := s.requireRegistered(ctx); err != nil {
		return nil, err
	}
	dates, err := s.sortedDates(ctx)
	if err != nil {
		return nil, s.failed("getAttendanceDates", err)
	}

	records := make([]Record, len(dates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, d := range dates {
		i, d := i, d
		g.Go(func() error {
			present, err := s.sess.Contract.CheckAttendance(gctx, d, s.sess.Account)
			if err != nil {
				return fmt.Errorf("date %s: %w", datecode.Decode(d), err)
			}
			records[i] = Record{DateNumber: d, Date: datecode.Decode(d), Present: present}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, s.failed("checkAttendance", err)
	}
	sort.SliceStable(records, func(i, j int) bool { return records[i].DateNumber > records[j].DateNumber })

	s.mu.Lock()
	s.records = records
	s.view.Records = records
	s.view.Status = ""
	s.mu.Unlock()
	return append([]Record(nil), records...), nil
}

// Summary computes statistics from the last LoadDetailed result without
// querying the contract.
func (s *Student) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Summarize(s.records)
}
