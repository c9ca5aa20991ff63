package domain

// ThreatCategory is a coarse heuristic classification of a synced email.
type ThreatCategory string

const (
	ThreatPhishing   ThreatCategory = "PHISHING"
	ThreatMalware    ThreatCategory = "MALWARE"
	ThreatSpam       ThreatCategory = "SPAM"
	ThreatSuspicious ThreatCategory = "SUSPICIOUS"
	ThreatDDoS       ThreatCategory = "DDoS"
	ThreatRansomware ThreatCategory = "RANSOMWARE"
	ThreatDataLeak   ThreatCategory = "DATA_LEAK"
)

// ThreatCategories is the stable enumeration order used when emitting counts.
// MALWARE, DDoS, RANSOMWARE and DATA_LEAK are declared for forward extension;
// the current classifier never assigns them.
var ThreatCategories = []ThreatCategory{
	ThreatPhishing,
	ThreatMalware,
	ThreatSpam,
	ThreatSuspicious,
	ThreatDDoS,
	ThreatRansomware,
	ThreatDataLeak,
}

type ThreatCount struct {
	Category ThreatCategory `json:"category"`
	Count    int            `json:"count"`
}

// ActivityPoint is a per-day email count, Date in YYYY-MM-DD (UTC).
type ActivityPoint struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// Insights is the response DTO returned to dashboard callers. HasProvider
// distinguishes "never connected" (false) from "connected but nothing synced
// yet" (true with zero emails). Callers must treat an empty result as
// potentially transient, not authoritative.
type Insights struct {
	HasProvider    bool            `json:"hasProvider"`
	ReauthRequired bool            `json:"reauthRequired,omitempty"`
	EmailCount     int             `json:"emailCount"`
	ThreatCounts   []ThreatCount   `json:"threatCounts"`
	ActivityByDay  []ActivityPoint `json:"activityByDay"`
	Emails         []*Email        `json:"emails"`
}
