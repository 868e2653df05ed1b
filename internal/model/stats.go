package model

import "math"

// ReportStats backs the dashboard's latest-summary card.
type ReportStats struct {
	Total               int     `json:"total"`
	Essential           int     `json:"essential"`
	NonEssential        int     `json:"non_essential"`
	EssentialPercent    float64 `json:"essential_percent"`
	NonEssentialPercent float64 `json:"non_essential_percent"`
	PendingActions      int     `json:"pending_actions"`
	FailedActions       int     `json:"failed_actions"`
}

// ComputeStats counts items by category. Percentages are 0 when there is nothing to count.
func ComputeStats(r *Report) ReportStats {
	var s ReportStats
	for _, item := range r.Items() {
		switch item.Category {
		case CategoryEssential:
			s.Essential++
		case CategoryNonEssential:
			s.NonEssential++
		}
		switch item.ActionResult {
		case ActionResultPending:
			s.PendingActions++
		case ActionResultError:
			s.FailedActions++
		}
	}

	classified := s.Essential + s.NonEssential
	s.Total = classified
	if classified == 0 {
		return s
	}
	s.EssentialPercent = percent(s.Essential, classified)
	s.NonEssentialPercent = percent(s.NonEssential, classified)
	return s
}

func percent(part, whole int) float64 {
	return math.Round(float64(part)*1000/float64(whole)) / 10
}
