package fair

import (
	"math"
	"testing"
)

func TestDeriveCrashPoint_Range(t *testing.T) {
	tests := []struct {
		name       string
		serverSeed string
		clientSeed string
		nonce      int64
		houseEdge  float64
		streamTag  string
	}{
		{"primary stream", "test_server_seed_123", "test_client_seed_456", 1, 0.04, ""},
		{"second stream", "test_server_seed_123", "test_client_seed_456", 1, 0.04, StreamSecond},
		{"zero house edge", "another_seed", "client", 99, 0.0, ""},
		{"high house edge", "another_seed", "client", 99, 0.50, ""},
		{"large nonce", "seed", "client", 1 << 40, 0.04, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DeriveCrashPoint(tt.serverSeed, tt.clientSeed, tt.nonce, tt.houseEdge, tt.streamTag)
			if err != nil {
				t.Fatalf("DeriveCrashPoint() error = %v", err)
			}
			if got < MinCrashPoint || got > MaxCrashPoint {
				t.Errorf("DeriveCrashPoint() = %v, want within [%v, %v]", got, MinCrashPoint, MaxCrashPoint)
			}
			if got != math.Floor(got*100)/100 {
				t.Errorf("DeriveCrashPoint() = %v, want 2-decimal value", got)
			}
		})
	}
}

func TestDeriveCrashPoint_InvalidHouseEdge(t *testing.T) {
	for _, edge := range []float64{-0.01, 1.0, 1.5} {
		if _, err := DeriveCrashPoint("seed", "client", 1, edge, ""); err == nil {
			t.Errorf("DeriveCrashPoint(houseEdge=%v) expected error, got nil", edge)
		}
	}
}

func TestDeriveCrashPoint_Deterministic(t *testing.T) {
	const (
		serverSeed = "mega-test-server-seed-crash-2026"
		clientSeed = "mega-test-client-seed"
		nonce      = 7
	)

	first, err := DeriveCrashPoint(serverSeed, clientSeed, nonce, 0.04, "")
	if err != nil {
		t.Fatalf("DeriveCrashPoint() error = %v", err)
	}
	for i := 0; i < 100; i++ {
		again, err := DeriveCrashPoint(serverSeed, clientSeed, nonce, 0.04, "")
		if err != nil {
			t.Fatalf("DeriveCrashPoint() error = %v", err)
		}
		if again != first {
			t.Fatalf("DeriveCrashPoint() not deterministic: %v then %v", first, again)
		}
	}
}

func TestDeriveCrashPoint_StreamsDiffer(t *testing.T) {
	// Over many nonces the two streams must not be the same sequence.
	same := 0
	for nonce := int64(0); nonce < 1000; nonce++ {
		primary, _ := DeriveCrashPoint("stream_seed", "client", nonce, 0.04, "")
		second, _ := DeriveCrashPoint("stream_seed", "client", nonce, 0.04, StreamSecond)
		if primary == second {
			same++
		}
	}
	// Collisions happen (low points are common) but identity would mean the
	// tag is ignored.
	if same > 500 {
		t.Errorf("streams collided on %d/1000 nonces; domain separation broken", same)
	}
}

func TestDeriveCrashPoint_InstantCrashRate(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping statistical test in short mode")
	}

	const (
		houseEdge = 0.04
		draws     = 4_000_000
	)

	instant := 0
	for nonce := int64(0); nonce < draws; nonce++ {
		point, err := DeriveCrashPoint("instant_crash_rate_seed", "client", nonce, houseEdge, "")
		if err != nil {
			t.Fatalf("DeriveCrashPoint() error = %v", err)
		}
		if point == MinCrashPoint {
			instant++
		}
	}

	rate := float64(instant) / draws
	if rate < 0.03 || rate > 0.05 {
		t.Errorf("instant-crash rate = %.5f, want within [0.03, 0.05]", rate)
	}
}

func TestDeriveCrashPoint_RTPConvergence(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping statistical test in short mode")
	}

	const (
		houseEdge = 0.04
		wantRTP   = 1 - houseEdge
	)

	for _, target := range []float64{1.1, 2, 10, 100, 1000} {
		// Sample size grows with the target so the expected hit count stays
		// large enough for the tolerance below to hold with wide margin.
		draws := int64(100_000)
		if n := int64(20_000 * target); n > draws {
			draws = n
		}

		hits := int64(0)
		for nonce := int64(0); nonce < draws; nonce++ {
			point, err := DeriveCrashPoint("rtp_convergence_seed", "client", nonce, houseEdge, "")
			if err != nil {
				t.Fatalf("DeriveCrashPoint() error = %v", err)
			}
			if point >= target {
				hits++
			}
		}

		// A unit stake cashing out at target returns target when the crash
		// point reaches it, zero otherwise.
		rtp := target * float64(hits) / float64(draws)

		// Spec tolerance is 3%; widen to five standard errors when the
		// binomial noise at this sample size is the larger of the two.
		p := wantRTP / target
		tol := math.Max(0.03, 5*target*math.Sqrt(p*(1-p)/float64(draws)))
		if math.Abs(rtp-wantRTP) > tol {
			t.Errorf("target %v: RTP = %.4f over %d draws, want %.2f +/- %.4f", target, rtp, draws, wantRTP, tol)
		}
	}
}

func TestDeriveCrashPoint_DualStreamIndependence(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping statistical test in short mode")
	}

	const draws = 100_000

	var sumX, sumY, sumXX, sumYY, sumXY float64
	for nonce := int64(0); nonce < draws; nonce++ {
		x, _ := DeriveCrashPoint("independence_seed", "client", nonce, 0.04, "")
		y, _ := DeriveCrashPoint("independence_seed", "client", nonce, 0.04, StreamSecond)
		sumX += x
		sumY += y
		sumXX += x * x
		sumYY += y * y
		sumXY += x * y
	}

	n := float64(draws)
	cov := sumXY/n - (sumX/n)*(sumY/n)
	varX := sumXX/n - (sumX/n)*(sumX/n)
	varY := sumYY/n - (sumY/n)*(sumY/n)
	corr := cov / math.Sqrt(varX*varY)

	if math.Abs(corr) >= 0.02 {
		t.Errorf("stream correlation = %.5f over %d rounds, want |corr| < 0.02", corr, draws)
	}
}

func TestDeriveRoll(t *testing.T) {
	t.Run("range and determinism", func(t *testing.T) {
		for nonce := int64(0); nonce < 1000; nonce++ {
			roll := DeriveRoll("dice_seed", "client", nonce, StreamDice)
			if roll < 0 || roll >= 100 {
				t.Fatalf("DeriveRoll() = %v, want within [0, 100)", roll)
			}
			if again := DeriveRoll("dice_seed", "client", nonce, StreamDice); again != roll {
				t.Fatalf("DeriveRoll() not deterministic: %v then %v", roll, again)
			}
		}
	})

	t.Run("mean near 50", func(t *testing.T) {
		const draws = 100_000
		sum := 0.0
		for nonce := int64(0); nonce < draws; nonce++ {
			sum += DeriveRoll("dice_mean_seed", "client", nonce, StreamDice)
		}
		mean := sum / draws
		if mean < 49 || mean > 51 {
			t.Errorf("mean roll = %.3f over %d draws, want near 50", mean, draws)
		}
	})
}

func TestGenerateSeed(t *testing.T) {
	seed1 := GenerateSeed()
	seed2 := GenerateSeed()

	if seed1 == seed2 {
		t.Error("GenerateSeed() produced duplicate seeds")
	}
	if len(seed1) != 64 {
		t.Errorf("GenerateSeed() length = %v, want 64", len(seed1))
	}
}

func TestCommitment(t *testing.T) {
	seed := GenerateSeed()
	commitment := HashCommitment(seed)

	if len(commitment) != 64 {
		t.Errorf("HashCommitment() length = %v, want 64", len(commitment))
	}
	if !VerifyCommitment(seed, commitment) {
		t.Error("VerifyCommitment() rejected a valid commitment")
	}
	if VerifyCommitment(seed+"x", commitment) {
		t.Error("VerifyCommitment() accepted a tampered seed")
	}
}

func TestVerifyCrashPoint(t *testing.T) {
	point, err := DeriveCrashPoint("verify_seed", "verify_client", 42, 0.04, "")
	if err != nil {
		t.Fatalf("DeriveCrashPoint() error = %v", err)
	}

	if !VerifyCrashPoint("verify_seed", "verify_client", 42, 0.04, "", point) {
		t.Error("VerifyCrashPoint() rejected the true crash point")
	}
	if VerifyCrashPoint("verify_seed", "verify_client", 42, 0.04, "", point+0.01) {
		t.Error("VerifyCrashPoint() accepted a false crash point")
	}
	if VerifyCrashPoint("wrong_seed", "verify_client", 42, 0.04, "", point) {
		t.Error("VerifyCrashPoint() accepted the wrong server seed")
	}
}

func BenchmarkDeriveCrashPoint(b *testing.B) {
	for i := 0; i < b.N; i++ {
		DeriveCrashPoint("benchmark_server_seed", "benchmark_client_seed", int64(i), 0.04, "")
	}
}

func BenchmarkGenerateSeed(b *testing.B) {
	for i := 0; i < b.N; i++ {
		GenerateSeed()
	}
}
