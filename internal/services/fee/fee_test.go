package fee

import "testing"

func TestRateTiers(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		tr   TrackRecord
		want int
	}{
		{"new consultant", TrackRecord{}, 40},
		{"one project", TrackRecord{CompletedProjects: 1, LifetimeEarnings: 9_000_000}, 40},
		{"returning", TrackRecord{CompletedProjects: 2}, 35},
		{"many projects low earnings", TrackRecord{CompletedProjects: 12, LifetimeEarnings: 1_999_999}, 35},
		{"proven", TrackRecord{CompletedProjects: 5, LifetimeEarnings: 2_000_000}, 25},
		{"elite projects proven earnings", TrackRecord{CompletedProjects: 10, LifetimeEarnings: 4_999_999}, 25},
		{"elite", TrackRecord{CompletedProjects: 10, LifetimeEarnings: 5_000_000}, 15},
		{"example scenario", TrackRecord{CompletedProjects: 12, LifetimeEarnings: 6_000_000}, 15},
	}
	for _, tc := range cases {
		if got := Rate(tc.tr); got != tc.want {
			t.Fatalf("%s: Rate(%+v) = %d, want %d", tc.name, tc.tr, got, tc.want)
		}
	}
}

func TestRateMonotonicAndBounded(t *testing.T) {
	t.Parallel()

	earnings := []int64{0, 1_000_000, 2_000_000, 3_000_000, 5_000_000, 9_000_000}
	for _, e := range earnings {
		prev := MaxRate + 1
		for p := 0; p <= 15; p++ {
			r := Rate(TrackRecord{CompletedProjects: p, LifetimeEarnings: e})
			if r < MinRate || r > MaxRate {
				t.Fatalf("rate %d out of bounds for projects=%d earnings=%d", r, p, e)
			}
			if r > prev {
				t.Fatalf("rate increased with projects: %d -> %d at projects=%d earnings=%d", prev, r, p, e)
			}
			prev = r
		}
	}
	for p := 0; p <= 15; p++ {
		prev := MaxRate + 1
		for _, e := range earnings {
			r := Rate(TrackRecord{CompletedProjects: p, LifetimeEarnings: e})
			if r > prev {
				t.Fatalf("rate increased with earnings: %d -> %d at projects=%d earnings=%d", prev, r, p, e)
			}
			prev = r
		}
	}
}

func TestPlatformFeeConservesAmount(t *testing.T) {
	t.Parallel()

	if got := PlatformFee(100000, 15); got != 15000 {
		t.Fatalf("PlatformFee(100000, 15) = %d, want 15000", got)
	}
	// 333 * 35% = 116.55 -> 117
	if got := PlatformFee(333, 35); got != 117 {
		t.Fatalf("PlatformFee(333, 35) = %d, want 117", got)
	}
	for _, amount := range []int64{1, 99, 1001, 123457, 100000} {
		for _, rate := range []int{15, 25, 35, 40} {
			fee := PlatformFee(amount, rate)
			if fee < 0 || fee > amount {
				t.Fatalf("fee %d outside [0,%d]", fee, amount)
			}
			if net := amount - fee; fee+net != amount {
				t.Fatalf("conservation broken for amount=%d rate=%d", amount, rate)
			}
		}
	}
}

func TestClampDisplayRate(t *testing.T) {
	t.Parallel()

	for in, want := range map[int]int{0: 15, 15: 15, 30: 30, 40: 40, 90: 40} {
		if got := ClampDisplayRate(in); got != want {
			t.Fatalf("ClampDisplayRate(%d) = %d, want %d", in, got, want)
		}
	}
}
