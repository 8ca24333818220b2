package models

import (
	"time"
)

// Domain identifies one of the fixed analysis domains.
type Domain string

const (
	DomainDevice   Domain = "device"
	DomainNetwork  Domain = "network"
	DomainLocation Domain = "location"
	DomainLogs     Domain = "logs"
	DomainRisk     Domain = "risk"
)

// AllDomains is the fixed dispatch order for sequential scheduling.
var AllDomains = []Domain{DomainDevice, DomainNetwork, DomainLocation, DomainLogs, DomainRisk}

// Decision is the payment decision recorded on a transaction.
type Decision string

const (
	DecisionApproved   Decision = "APPROVED"
	DecisionAuthorized Decision = "AUTHORIZED"
	DecisionSettled    Decision = "SETTLED"
	DecisionRejected   Decision = "REJECTED"
)

// Transaction is a read-only warehouse fact. PredictedRisk and ActualLabel
// are nil until the mapper and label joiner attach them; nil is distinct
// from zero and must stay that way through confusion-matrix arithmetic.
type Transaction struct {
	TxID            string    `json:"tx_id"`
	Datetime        time.Time `json:"tx_datetime"`
	MerchantID      string    `json:"merchant_id"`
	Amount          float64   `json:"amount"`
	Currency        string    `json:"currency"`
	BIN             string    `json:"bin"`
	LastFour        string    `json:"last_four"`
	IP              string    `json:"ip"`
	IPCountry       string    `json:"ip_country"`
	BINCountry      string    `json:"bin_country"`
	DeviceID        string    `json:"device_id"`
	EmailNormalized string    `json:"email_normalized"`
	UserAgent       string    `json:"user_agent"`
	CardType        string    `json:"card_type"`
	Decision        *Decision `json:"decision"`
	PredictedRisk   *float64  `json:"predicted_risk"`
	ActualLabel     *int      `json:"actual_label"`
}

// CardHash returns the BIN|last4 pairing used for corroboration checks.
func (t *Transaction) CardHash() string {
	if t.BIN == "" && t.LastFour == "" {
		return ""
	}
	return t.BIN + "|" + t.LastFour
}

// Prediction is one scored transaction row, keyed by tx_id with
// insert-or-replace semantics in the warehouse.
type Prediction struct {
	TxID            string    `json:"tx_id"`
	PredictedRisk   float64   `json:"predicted_risk"`
	PredictedLabel  int       `json:"predicted_label"`
	ModelVersion    string    `json:"model_version"`
	InvestigationID string    `json:"investigation_id"`
	EntityType      string    `json:"entity_type"`
	EntityID        string    `json:"entity_id"`
	MerchantID      string    `json:"merchant_id"`
	WindowStart     time.Time `json:"window_start"`
	WindowEnd       time.Time `json:"window_end"`
	RiskThreshold   float64   `json:"risk_threshold"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Window is a half-open [Start, End) interval in a fixed timezone.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Label string    `json:"label,omitempty"`
}

// Contains reports whether t falls inside the half-open interval.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Covers reports whether w fully contains other.
func (w Window) Covers(other Window) bool {
	return !w.Start.After(other.Start) && !w.End.Before(other.End)
}

// Overlap returns the duration shared between the two windows.
func (w Window) Overlap(other Window) time.Duration {
	start := w.Start
	if other.Start.After(start) {
		start = other.Start
	}
	end := w.End
	if other.End.Before(end) {
		end = other.End
	}
	if end.Before(start) {
		return 0
	}
	return end.Sub(start)
}

// Duration returns End - Start.
func (w Window) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// IsZeroLength reports whether the window is degenerate (start == end).
func (w Window) IsZeroLength() bool {
	return !w.Start.Before(w.End)
}

// EvidenceType categorizes a piece of evidence attached to a finding.
type EvidenceType string

const (
	EvidenceDeviceReuse       EvidenceType = "device_reuse"
	EvidenceFingerprint       EvidenceType = "fingerprint_mismatch"
	EvidencePrepaidCard       EvidenceType = "prepaid_card"
	EvidenceUserAgentEntropy  EvidenceType = "user_agent_entropy"
	EvidenceIPReputation      EvidenceType = "ip_reputation"
	EvidenceVPNProxy          EvidenceType = "vpn_proxy"
	EvidenceASNDiversity      EvidenceType = "asn_diversity"
	EvidenceCountryMismatch   EvidenceType = "country_mismatch"
	EvidenceImpossibleTravel  EvidenceType = "impossible_travel"
	EvidenceSIEMHit           EvidenceType = "siem_hit"
	EvidenceVelocity          EvidenceType = "velocity_reuse"
	EvidenceMerchantAnomaly   EvidenceType = "merchant_anomaly"
	EvidenceLinkRing          EvidenceType = "link_ring"
	EvidenceAnalyzerFailure   EvidenceType = "analyzer_failure"
	EvidenceExternalRecording EvidenceType = "external_response"
)

// Severity buckets detector and evidence findings.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Evidence is a single observation supporting (or explaining the absence
// of) a domain score.
type Evidence struct {
	Type     EvidenceType `json:"type"`
	Detail   string       `json:"detail"`
	Severity Severity     `json:"severity,omitempty"`
	Source   string       `json:"source,omitempty"`
}

// DomainFinding is the output of one domain analyzer. A nil RiskScore
// means the score was blocked by evidence gating or the analyzer failed;
// it is not the same as 0.0 and aggregation branches on it.
type DomainFinding struct {
	Domain     Domain     `json:"domain"`
	RiskScore  *float64   `json:"risk_score"`
	Confidence float64    `json:"confidence"`
	Evidence   []Evidence `json:"evidence"`
	Narrative  string     `json:"narrative"`
}

// Scored reports whether the finding carries a real score.
func (f *DomainFinding) Scored() bool {
	return f != nil && f.RiskScore != nil
}

// DomainFindings is the fixed record of per-domain results. Missing
// domains are explicit nil entries rather than absent map keys.
type DomainFindings map[Domain]*DomainFinding

// Status is the investigation lifecycle state. Transitions are monotone
// except in_progress -> failed, which is terminal.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ToolExecution is one recorded tool call inside an investigation.
// Progress is logically append-only; executions are never rewritten.
type ToolExecution struct {
	Tool       string    `json:"tool"`
	Domain     Domain    `json:"domain,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Outcome    string    `json:"outcome"`
	Detail     string    `json:"detail,omitempty"`
}

// Progress accumulates investigation state as analyzers complete.
type Progress struct {
	ToolExecutions    []ToolExecution    `json:"tool_executions"`
	TransactionScores map[string]float64 `json:"transaction_scores"`
	OverallRiskScore  *float64           `json:"overall_risk_score"`
	CurrentPhase      string             `json:"current_phase"`
}

// Settings captures the per-investigation knobs fixed at creation time.
type Settings struct {
	Parallel       bool    `json:"parallel"`
	RiskThreshold  float64 `json:"risk_threshold"`
	DecisionFilter string  `json:"decision_filter"`
	ModelVersion   string  `json:"model_version"`
	RecursionLimit int     `json:"recursion_limit"`
}

// Investigation is the root aggregate. It exclusively owns its findings,
// its log handler, and its canonical artifact folder.
type Investigation struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id,omitempty"`
	Entities  []Entity       `json:"entities"`
	Window    Window         `json:"window"`
	Status    Status         `json:"status"`
	FailCause string         `json:"fail_cause,omitempty"`
	Settings  Settings       `json:"settings"`
	Progress  Progress       `json:"progress"`
	Findings  DomainFindings `json:"findings,omitempty"`
	Version   int            `json:"version"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Target renders the investigation's entities as a compound AND target.
func (inv *Investigation) Target() CompoundEntity {
	return CompoundEntity{Op: CompoundAnd, Entities: inv.Entities}
}

// EntityType enumerates the supported target entity kinds.
type EntityType string

const (
	EntityEmail           EntityType = "email"
	EntityPhone           EntityType = "phone"
	EntityDevice          EntityType = "device"
	EntityIP              EntityType = "ip"
	EntityAccount         EntityType = "account"
	EntityCardFingerprint EntityType = "card_fingerprint"
	EntityMerchant        EntityType = "merchant"
)

// Entity is a canonicalized investigation target. NormalizedValue is
// always the output of the normalizer; construction through any other
// path is a bug.
type Entity struct {
	Type            EntityType `json:"type"`
	NormalizedValue string     `json:"normalized_value"`
}

// CompoundOp combines entities in a compound target.
type CompoundOp string

const (
	CompoundAnd CompoundOp = "AND"
	CompoundOr  CompoundOp = "OR"
)

// CompoundEntity is an ordered set of entities joined under a boolean
// predicate.
type CompoundEntity struct {
	Op       CompoundOp `json:"op"`
	Entities []Entity   `json:"entities"`
}

// Float64Ptr is a convenience for optional scores.
func Float64Ptr(v float64) *float64 { return &v }

// IntPtr is a convenience for optional labels.
func IntPtr(v int) *int { return &v }
