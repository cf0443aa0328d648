package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type fakeService struct {
	pending int
	users   int
}

func (f fakeService) PendingCount() int    { return f.pending }
func (f fakeService) RegisteredUsers() int { return f.users }

type fakeTokens struct {
	n   int64
	err error
}

func (f fakeTokens) Count(ctx context.Context) (int64, error) { return f.n, f.err }

// gather registers cs on a fresh registry and returns the first sample of
// every metric family by name.
func gather(t *testing.T, cs ...prometheus.Collector) map[string]float64 {
	t.Helper()
	reg := prometheus.NewRegistry()
	for _, c := range cs {
		if err := reg.Register(c); err != nil {
			t.Fatalf("registering collector: %v", err)
		}
	}
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gathering: %v", err)
	}

	out := make(map[string]float64)
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			key := mf.GetName()
			for _, lp := range m.GetLabel() {
				key += "/" + lp.GetValue()
			}
			switch {
			case m.GetGauge() != nil:
				out[key] = m.GetGauge().GetValue()
			case m.GetCounter() != nil:
				out[key] = m.GetCounter().GetValue()
			}
		}
	}
	return out
}

func TestCollector(t *testing.T) {
	svc := fakeService{pending: 3, users: 7}
	c := NewCollector(svc, svc, fakeTokens{n: 12}, time.Now().Add(-time.Minute))

	got := gather(t, c)

	if got["dialmobile_pending_pushes"] != 3 {
		t.Errorf("pending = %v, want 3", got["dialmobile_pending_pushes"])
	}
	if got["dialmobile_registered_users"] != 7 {
		t.Errorf("registered users = %v, want 7", got["dialmobile_registered_users"])
	}
	if got["dialmobile_push_tokens"] != 12 {
		t.Errorf("push tokens = %v, want 12", got["dialmobile_push_tokens"])
	}
	if got["dialmobile_uptime_seconds"] < 60 {
		t.Errorf("uptime = %v, want >= 60", got["dialmobile_uptime_seconds"])
	}
}

func TestCollector_NilAndFailingProviders(t *testing.T) {
	c := NewCollector(nil, nil, fakeTokens{err: errors.New("db closed")}, time.Now())

	got := gather(t, c)

	for _, name := range []string{"dialmobile_pending_pushes", "dialmobile_registered_users", "dialmobile_push_tokens"} {
		if _, ok := got[name]; ok {
			t.Errorf("expected %s to be omitted", name)
		}
	}
	if _, ok := got["dialmobile_uptime_seconds"]; !ok {
		t.Error("expected uptime to be reported")
	}
}

func TestCounters(t *testing.T) {
	c := NewCounters()
	c.PushSent()
	c.PushSent()
	c.PushResolved("answered")
	c.PushResolved("cancelled")
	c.PushResolved("cancelled")
	c.DispatchFailed("notify")

	got := gather(t, c)

	want := map[string]float64{
		"dialmobile_pushes_sent_total":               2,
		"dialmobile_pushes_resolved_total/answered":  1,
		"dialmobile_pushes_resolved_total/cancelled": 2,
		"dialmobile_dispatch_failures_total/notify":  1,
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %v, want %v", k, got[k], v)
		}
	}
}
