// Package fair implements the provably-fair derivation shared by every game
// in the server. All outcomes are a pure function of (serverSeed, clientSeed,
// nonce) plus a domain-separation tag, so any third party can reproduce a
// published result from the revealed seeds.
package fair

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
)

const (
	// MinCrashPoint and MaxCrashPoint bound every derived crash point.
	MinCrashPoint = 1.00
	MaxCrashPoint = 5000.00

	// DefaultHouseEdge is the operator margin applied when none is configured.
	DefaultHouseEdge = 0.04

	// StreamSecond tags the independent second crash line ("dragon") derived
	// within the same round. The primary stream uses an empty tag.
	StreamSecond = "dragon"

	// StreamDice tags rolls consumed by the dice game.
	StreamDice = "dice"

	// hashBits is the number of leading hash bits consumed per derivation:
	// 13 hex characters, 52 bits, the largest integer float64 holds exactly.
	hashBits = 52
)

// ErrInvalidHouseEdge is returned for a house edge outside [0, 1).
var ErrInvalidHouseEdge = fmt.Errorf("fair: house edge must be in [0, 1)")

// digest computes HMAC-SHA256(key=serverSeed, msg=clientSeed:nonce<tag>).
func digest(serverSeed, clientSeed string, nonce int64, streamTag string) []byte {
	mac := hmac.New(sha256.New, []byte(serverSeed))
	fmt.Fprintf(mac, "%s:%d%s", clientSeed, nonce, streamTag)
	return mac.Sum(nil)
}

// uniform maps the first 52 bits of the digest to a float in [0, 1).
func uniform(sum []byte) float64 {
	hexDigest := hex.EncodeToString(sum)
	h, err := strconv.ParseUint(hexDigest[:13], 16, 64)
	if err != nil {
		// 13 hex characters always parse; keep the compiler honest.
		panic(err)
	}
	return float64(h) / math.Pow(2, hashBits)
}

// DeriveCrashPoint derives the hidden crash point for one stream of a round.
//
// The construction gives an instant-crash (1.00x) probability of houseEdge in
// the limit, and for any fixed cashout target c the expected return
// c * P(crashPoint >= c) equals 1-houseEdge, which is the RTP guarantee the
// engine publishes.
func DeriveCrashPoint(serverSeed, clientSeed string, nonce int64, houseEdge float64, streamTag string) (float64, error) {
	if houseEdge < 0 || houseEdge >= 1 {
		return 0, ErrInvalidHouseEdge
	}

	r := uniform(digest(serverSeed, clientSeed, nonce, streamTag))
	raw := (1 - houseEdge) / (1 - r)

	point := math.Floor(raw*100) / 100
	if point < MinCrashPoint {
		point = MinCrashPoint
	}
	if point > MaxCrashPoint {
		point = MaxCrashPoint
	}
	return point, nil
}

// DeriveRoll derives a uniform roll in [0, 100) for single-draw games such as
// dice. Tag-separated from the crash streams so consumers sharing a seed pair
// never correlate with the round outcome.
func DeriveRoll(serverSeed, clientSeed string, nonce int64, streamTag string) float64 {
	r := uniform(digest(serverSeed, clientSeed, nonce, streamTag))
	return math.Floor(r*10000) / 100
}

// GenerateSeed returns a 32-byte cryptographically random seed, hex encoded.
func GenerateSeed() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("fair: crypto/rand unavailable: %v", err))
	}
	return hex.EncodeToString(b)
}

// HashCommitment returns the SHA-256 commitment published for a server seed
// before the round runs.
func HashCommitment(seed string) string {
	sum := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(sum[:])
}

// VerifyCommitment reports whether a revealed seed matches its pre-published
// commitment.
func VerifyCommitment(seed, commitment string) bool {
	return subtle.ConstantTimeCompare([]byte(HashCommitment(seed)), []byte(commitment)) == 1
}

// VerifyCrashPoint re-derives a crash point from revealed inputs and compares
// it with the claimed value. This is the check an external auditor runs.
func VerifyCrashPoint(serverSeed, clientSeed string, nonce int64, houseEdge float64, streamTag string, claimed float64) bool {
	point, err := DeriveCrashPoint(serverSeed, clientSeed, nonce, houseEdge, streamTag)
	if err != nil {
		return false
	}
	return point == claimed
}
