package performance

// Expectancy returns E = wr*avgWinR - (1-wr)*avgLossR where win sizes are
// normalized by the average loss (avgLossR = 1). It is 0 when there are no
// losses, since the unit of risk is undefined.
func Expectancy(wins, losses int, pipsWon, pipsLost float64) float64 {
	if losses == 0 || pipsLost <= 0 {
		return 0
	}
	decided := wins + losses
	wr := float64(wins) / float64(decided)

	avgLoss := pipsLost / float64(losses)
	var avgWinR float64
	if wins > 0 {
		avgWinR = (pipsWon / float64(wins)) / avgLoss
	}
	return wr*avgWinR - (1 - wr)
}

// WinRate returns wins / (wins + losses), 0 with nothing decided.
func WinRate(wins, losses int) float64 {
	if wins+losses == 0 {
		return 0
	}
	return float64(wins) / float64(wins+losses)
}
