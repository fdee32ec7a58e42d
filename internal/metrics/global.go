package metrics

import "github.com/rawblock/wager-engine/pkg/models"

// GlobalMetrics condenses a window's metrics table into one row. Time variance
// moments only consider rows with at least two inter-arrival samples.
func GlobalMetrics(label string, rows []models.CounterpartyWindowMetrics) models.WindowGlobalMetrics {
	g := models.WindowGlobalMetrics{Chunk: label, UniqueWallets: len(rows)}

	balances := make([]float64, 0, len(rows))
	var variances []float64
	for _, r := range rows {
		g.TotalTransactions += r.InDegree + r.OutDegree
		g.TotalBTCReceived += r.TotalReceived
		balances = append(balances, r.NetBalance)
		if r.Time != nil && r.Time.Samples >= 2 {
			variances = append(variances, r.Time.Variance)
		}
	}

	g.MeanNetBalance = Mean(balances)
	g.VarianceNetBalance = SampleVariance(balances)
	g.MeanTimeVariance = Mean(variances)
	g.VarianceTimeVariance = SampleVariance(variances)
	return g
}
