package chain

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"chainattend/internal/datecode"
)

// Metrics records contract call counts and latency.
type Metrics struct {
	calls   *prometheus.CounterVec
	latency *prometheus.HistogramVec
}

// NewMetrics registers the contract collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		calls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chainattend",
			Name:      "contract_calls_total",
			Help:      "Contract calls by method and outcome.",
		}, []string{"method", "outcome"}),
		latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "chainattend",
			Name:      "contract_call_seconds",
			Help:      "Contract call latency, including confirmation wait for writes.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 15, 30, 60},
		}, []string{"method"}),
	}
}

// Wrap decorates c so every call is counted and timed.
func (m *Metrics) Wrap(c Contract) Contract {
	return &instrumented{next: c, m: m}
}

func (m *Metrics) observe(method string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.calls.WithLabelValues(method, outcome).Inc()
	m.latency.WithLabelValues(method).Observe(time.Since(start).Seconds())
}

type instrumented struct {
	next Contract
	m    *Metrics
}

func (i *instrumented) Teacher(ctx context.Context) (addr string, err error) {
	defer func(start time.Time) { i.m.observe("teacher", start, err) }(time.Now())
	return i.next.Teacher(ctx)
}

func (i *instrumented) StudentList(ctx context.Context) (roster []string, err error) {
	defer func(start time.Time) { i.m.observe("getStudentList", start, err) }(time.Now())
	return i.next.StudentList(ctx)
}

func (i *instrumented) IsStudent(ctx context.Context, account string) (ok bool, err error) {
	defer func(start time.Time) { i.m.observe("isStudent", start, err) }(time.Now())
	return i.next.IsStudent(ctx, account)
}

func (i *instrumented) CheckAttendance(ctx context.Context, date datecode.Number, account string) (present bool, err error) {
	defer func(start time.Time) { i.m.observe("checkAttendance", start, err) }(time.Now())
	return i.next.CheckAttendance(ctx, date, account)
}

func (i *instrumented) AttendanceDates(ctx context.Context, account string) (dates []datecode.Number, err error) {
	defer func(start time.Time) { i.m.observe("getAttendanceDates", start, err) }(time.Now())
	return i.next.AttendanceDates(ctx, account)
}

func (i *instrumented) RegisterStudent(ctx context.Context, account string) (r Receipt, err error) {
	defer func(start time.Time) { i.m.observe("registerStudent", start, err) }(time.Now())
	return i.next.RegisterStudent(ctx, account)
}

func (i *instrumented) RegisterStudents(ctx context.Context, accounts []string) (r Receipt, err error) {
	defer func(start time.Time) { i.m.observe("registerStudents", start, err) }(time.Now())
	return i.next.RegisterStudents(ctx, accounts)
}

func (i *instrumented) MarkAttendance(ctx context.Context, date datecode.Number, account string, present bool) (r Receipt, err error) {
	defer func(start time.Time) { i.m.observe("markAttendance", start, err) }(time.Now())
	return i.next.MarkAttendance(ctx, date, account, present)
}
