package engine

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"oqcpipe/internal/oqc"
	"oqcpipe/internal/resolver"
)

type fakeResolver struct {
	mu       sync.Mutex
	calls    []string
	profiles map[string]*oqc.QualityProfile
	errs     map[string]error
	// delays makes some projects resolve later than others.
	delays map[string]time.Duration
	active int32
	peak   int32
}

func (f *fakeResolver) Resolve(ctx context.Context, project, branch, commit string) (*oqc.QualityProfile, error) {
	f.mu.Lock()
	f.calls = append(f.calls, project)
	f.mu.Unlock()

	n := atomic.AddInt32(&f.active, 1)
	defer atomic.AddInt32(&f.active, -1)
	for {
		p := atomic.LoadInt32(&f.peak)
		if n <= p || atomic.CompareAndSwapInt32(&f.peak, p, n) {
			break
		}
	}

	if d := f.delays[project]; d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := f.errs[project]; err != nil {
		return nil, err
	}
	if p, ok := f.profiles[project]; ok {
		return p, nil
	}
	return &oqc.QualityProfile{Result: true}, nil
}

func (f *fakeResolver) called() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func failing() *oqc.QualityProfile {
	return &oqc.QualityProfile{Rules: []oqc.RuleResult{{Entity: "AVGNODL", Operator: "GT", Threshold: "0.0"}}}
}

func verdictNames(vs []ProjectVerdict) []string {
	var out []string
	for _, v := range vs {
		out = append(out, v.ProjectName)
	}
	return out
}

func TestSplitProjectNames(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{in: "a, b", want: []string{"a", "b"}},
		{in: "a,b", want: []string{"a", "b"}},
		{in: "  single  ", want: []string{"single"}},
		{in: "a,,b,", want: []string{"a", "b"}},
		{in: "", want: nil},
	}
	for _, tt := range tests {
		if got := SplitProjectNames(tt.in); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("SplitProjectNames(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestEvaluate_OverallIsConjunction(t *testing.T) {
	tests := []struct {
		name     string
		profiles map[string]*oqc.QualityProfile
		want     bool
	}{
		{name: "all pass", want: true},
		{name: "one fails", profiles: map[string]*oqc.QualityProfile{"b": failing()}, want: false},
		{name: "all fail", profiles: map[string]*oqc.QualityProfile{"a": failing(), "b": failing(), "c": failing()}, want: false},
	}

	for _, tt := range tests {
		for _, concurrency := range []int{1, 3} {
			t.Run(tt.name, func(t *testing.T) {
				r := &fakeResolver{profiles: tt.profiles}
				ev, err := NewEvaluator(r, concurrency)
				if err != nil {
					t.Fatalf("NewEvaluator: %v", err)
				}
				sum, err := ev.Evaluate(context.Background(), []string{"a", "b", "c"}, "master", "abc", nil)
				if err != nil {
					t.Fatalf("Evaluate: %v", err)
				}
				if sum.Passed != tt.want {
					t.Fatalf("Passed = %v, want %v", sum.Passed, tt.want)
				}
				if len(sum.Verdicts) != 3 {
					t.Fatalf("expected 3 verdicts, got %d", len(sum.Verdicts))
				}
			})
		}
	}
}

func TestEvaluate_FailingVerdictCarriesReason(t *testing.T) {
	r := &fakeResolver{profiles: map[string]*oqc.QualityProfile{"a": failing()}}
	ev, _ := NewEvaluator(r, 1)

	sum, err := ev.Evaluate(context.Background(), []string{"a"}, "master", "abc", nil)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	v := sum.Verdicts[0]
	if v.Passed || v.Reason != "\n\t\t* The AVGNODL should be GT 0.0. " || len(v.FailedRules) != 1 {
		t.Fatalf("unexpected verdict: %+v", v)
	}
	want := "The commit for project 'a' is FAILED the analysis\n\tReason: \n\t\t* The AVGNODL should be GT 0.0. "
	if v.Message() != want {
		t.Fatalf("Message = %q, want %q", v.Message(), want)
	}
	if len(sum.FailedVerdicts()) != 1 {
		t.Fatalf("expected one failed verdict")
	}
}

func TestEvaluate_SequentialAbortsOnFirstError(t *testing.T) {
	notFound := &resolver.NotFoundError{Entity: resolver.EntityProject, Message: "[b] Project id NOT found for project name"}
	r := &fakeResolver{errs: map[string]error{"b": notFound}}
	ev, _ := NewEvaluator(r, 1)

	var emitted []string
	sum, err := ev.Evaluate(context.Background(), []string{"a", "b", "c"}, "master", "abc", func(v ProjectVerdict) {
		emitted = append(emitted, v.ProjectName)
	})
	if !errors.Is(err, notFound) {
		t.Fatalf("expected the resolver error, got %v", err)
	}
	if sum.Passed {
		t.Fatalf("aborted run must not pass")
	}
	if !reflect.DeepEqual(emitted, []string{"a"}) {
		t.Fatalf("emitted = %v, want [a]", emitted)
	}
	if got := r.called(); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Fatalf("resolved = %v, later projects must not be attempted", got)
	}
}

func TestEvaluate_ParallelEmitsInInputOrder(t *testing.T) {
	r := &fakeResolver{delays: map[string]time.Duration{
		"a": 60 * time.Millisecond,
		"b": 30 * time.Millisecond,
	}}
	ev, _ := NewEvaluator(r, 3)

	var emitted []string
	sum, err := ev.Evaluate(context.Background(), []string{"a", "b", "c"}, "master", "abc", func(v ProjectVerdict) {
		emitted = append(emitted, v.ProjectName)
	})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	want := []string{"a", "b", "c"}
	if !reflect.DeepEqual(emitted, want) || !reflect.DeepEqual(verdictNames(sum.Verdicts), want) {
		t.Fatalf("emitted = %v, verdicts = %v, want %v", emitted, verdictNames(sum.Verdicts), want)
	}
}

func TestEvaluate_ParallelRespectsLimit(t *testing.T) {
	delays := map[string]time.Duration{}
	names := []string{"a", "b", "c", "d", "e", "f"}
	for _, n := range names {
		delays[n] = 10 * time.Millisecond
	}
	r := &fakeResolver{delays: delays}
	ev, _ := NewEvaluator(r, 2)

	if _, err := ev.Evaluate(context.Background(), names, "master", "abc", nil); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if peak := atomic.LoadInt32(&r.peak); peak > 2 {
		t.Fatalf("peak concurrency = %d, want <= 2", peak)
	}
}

func TestEvaluate_ParallelFailsFast(t *testing.T) {
	boom := &oqc.AuthError{StatusCode: 403}
	r := &fakeResolver{
		errs: map[string]error{"b": boom},
		delays: map[string]time.Duration{
			"a": 5 * time.Second,
			"c": 5 * time.Second,
		},
	}
	ev, _ := NewEvaluator(r, 3)

	start := time.Now()
	sum, err := ev.Evaluate(context.Background(), []string{"a", "b", "c"}, "master", "abc", nil)
	if !errors.Is(err, boom) {
		t.Fatalf("expected auth error, got %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatalf("slow projects were not cancelled")
	}
	if sum.Passed || len(sum.Verdicts) != 0 {
		t.Fatalf("unexpected summary after abort: %+v", sum)
	}
}

func TestEvaluate_NilProfileIsFatal(t *testing.T) {
	r := &fakeResolver{profiles: map[string]*oqc.QualityProfile{"a": nil}}
	ev, _ := NewEvaluator(r, 1)
	if _, err := ev.Evaluate(context.Background(), []string{"a"}, "master", "abc", nil); !errors.Is(err, ErrNoQualityProfile) {
		t.Fatalf("expected ErrNoQualityProfile, got %v", err)
	}
}

func TestEvaluate_Idempotent(t *testing.T) {
	r := &fakeResolver{profiles: map[string]*oqc.QualityProfile{"b": failing()}}
	ev, _ := NewEvaluator(r, 1)

	first, err := ev.Evaluate(context.Background(), []string{"a", "b"}, "master", "abc", nil)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	second, err := ev.Evaluate(context.Background(), []string{"a", "b"}, "master", "abc", nil)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("verdicts differ between runs:\n%+v\n%+v", first, second)
	}
}

func TestNewEvaluator_Validation(t *testing.T) {
	if _, err := NewEvaluator(nil, 1); err == nil {
		t.Fatalf("expected error for nil resolver")
	}
	if _, err := NewEvaluator(&fakeResolver{}, 0); err == nil {
		t.Fatalf("expected error for zero concurrency")
	}
}
