package model

// StrategyNone tags a result for which every strategy failed.
const StrategyNone = "none"

// ScrapingResult is the outcome of processing one target. It is never modified after it is returned.
type ScrapingResult struct {
	Success      bool                `json:"success"`
	Candidates   []LocationCandidate `json:"candidates"`
	Source       string              `json:"source"`
	Error        string              `json:"error,omitempty"`
	Strategy     string              `json:"strategy"`
	TimeToScrape int64               `json:"time_to_scrape"` // in milliseconds
}

func FailedResult(source, errMsg string) ScrapingResult {
	return ScrapingResult{
		Success:    false,
		Candidates: []LocationCandidate{},
		Source:     source,
		Error:      errMsg,
		Strategy:   StrategyNone,
	}
}

type SimilarLocation struct {
	Location   Location `json:"location"`
	Confidence float64  `json:"confidence"`
	Reasons    []string `json:"reasons"`
}

// DuplicateCheckResult is the verdict for one candidate against a corpus. It is never cached.
type DuplicateCheckResult struct {
	IsDuplicate      bool              `json:"is_duplicate"`
	SimilarLocations []SimilarLocation `json:"similar_locations"`
	Reasons          []string          `json:"reasons"`
	Confidence       float64           `json:"confidence"`
}

type CandidateVerdict struct {
	Candidate LocationCandidate    `json:"candidate"`
	Duplicate DuplicateCheckResult `json:"duplicate"`
	Stored    bool                 `json:"stored"`
}

// DiscoveryReport is published once per processed target.
type DiscoveryReport struct {
	TargetURL     string             `json:"target_url"`
	Category      string             `json:"category"`
	Source        string             `json:"source"`
	Strategy      string             `json:"strategy"`
	Success       bool               `json:"success"`
	Error         string             `json:"error,omitempty"`
	TimeToScrape  int64              `json:"time_to_scrape"`
	Verdicts      []CandidateVerdict `json:"verdicts"`
	WorkerVersion string             `json:"worker_version"`
}
