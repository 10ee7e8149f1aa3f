package bidding

import "math"

// Price converts a utility score and risk posture into a bid amount within
// [minBid, maxBid]. Strong fits and risk-tolerant agents bid toward the floor.
func Price(utility, riskTolerance, minBid, maxBid float64) float64 {
	utilityFactor := 1 - utility/100
	riskFactor := 1 - riskTolerance
	position := utilityFactor * riskFactor
	amount := minBid + position*(maxBid-minBid)
	return math.Max(minBid, math.Min(maxBid, amount))
}
