package usecase

import (
	"sort"
	"strings"

	insightdomain "safe-backend/internal/insight/domain"
)

// Classify assigns a coarse threat category to one email. Rules are checked
// in priority order and the first match wins; most emails match nothing.
func Classify(email *insightdomain.Email) (insightdomain.ThreatCategory, bool) {
	subject := strings.ToLower(email.Subject)
	sender := strings.ToLower(email.Sender)

	switch {
	case strings.Contains(subject, "urgent") || strings.Contains(sender, "noreply"):
		return insightdomain.ThreatSuspicious, true
	case strings.Contains(subject, "phishing"):
		return insightdomain.ThreatPhishing, true
	case strings.Contains(subject, "spam"):
		return insightdomain.ThreatSpam, true
	}
	return "", false
}

// Aggregate derives threat counts and a per-day activity histogram from the
// stored email set. Pure function; it never mutates the emails.
func Aggregate(emails []*insightdomain.Email) ([]insightdomain.ThreatCount, []insightdomain.ActivityPoint) {
	byCategory := make(map[insightdomain.ThreatCategory]int)
	byDay := make(map[string]int)

	for _, email := range emails {
		if category, ok := Classify(email); ok {
			byCategory[category]++
		}
		byDay[email.ReceivedAt.UTC().Format("2006-01-02")]++
	}

	// Emit only non-zero categories, in the declared enumeration order.
	threatCounts := make([]insightdomain.ThreatCount, 0, len(byCategory))
	for _, category := range insightdomain.ThreatCategories {
		if count := byCategory[category]; count > 0 {
			threatCounts = append(threatCounts, insightdomain.ThreatCount{
				Category: category,
				Count:    count,
			})
		}
	}

	activity := make([]insightdomain.ActivityPoint, 0, len(byDay))
	for date, count := range byDay {
		activity = append(activity, insightdomain.ActivityPoint{Date: date, Count: count})
	}
	sort.Slice(activity, func(i, j int) bool {
		return activity[i].Date < activity[j].Date
	})

	return threatCounts, activity
}
