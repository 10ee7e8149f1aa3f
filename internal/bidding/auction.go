package bidding

import "github.com/fentz26/agora/internal/models"

// SelectWinner picks the lowest submitted amount. Ties go to the higher
// utility, then to the lexically smaller agent id.
func SelectWinner(bids []models.Bid) (models.Bid, bool) {
	var best models.Bid
	found := false
	for _, b := range bids {
		if !b.Submit {
			continue
		}
		if !found || better(b, best) {
			best, found = b, true
		}
	}
	return best, found
}

func better(a, b models.Bid) bool {
	if a.Amount != b.Amount {
		return a.Amount < b.Amount
	}
	if a.Utility != b.Utility {
		return a.Utility > b.Utility
	}
	return a.AgentID < b.AgentID
}
