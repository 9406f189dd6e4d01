package models

import (
	"fmt"
	"time"
)

type (
	ArchiveReason string // Why a tender left the active table
	MatchRule     string // Which classifier tier admitted a title
)

const (
	ReasonAwarded   ArchiveReason = "Awarded"   // 決標
	ReasonCancelled ArchiveReason = "Cancelled" // 取消
	ReasonVoided    ArchiveReason = "Voided"    // 廢標
	ReasonFailed    ArchiveReason = "Failed"    // 流標
	ReasonExpired   ArchiveReason = "Expired"   // deadline passed

	RuleMustInclude      MatchRule = "must-include"
	RuleSecondaryInclude MatchRule = "secondary-include"
)

// TenderIdentity is the composite key identifying a tender across the
// upstream source's entire history. Immutable once assigned.
type TenderIdentity struct {
	UnitID    string `json:"unitId"`
	JobNumber string `json:"jobNumber"`
}

func (id TenderIdentity) String() string {
	return id.UnitID + "/" + id.JobNumber
}

// TenderRecord represents one tracked tender. Enrichment fields past the
// composite key and title are populated lazily and may be zero-valued.
type TenderRecord struct {
	Identity             TenderIdentity `json:"identity"`
	Title                string         `json:"title"`
	UnitName             string         `json:"unitName"`
	Budget               int64          `json:"budget"`
	Deadline             time.Time      `json:"deadline"`
	PkPmsMain            string         `json:"pkPmsMain"`
	DetailURL            string         `json:"detailUrl"`
	AwardType            string         `json:"awardType"`
	IsElectronicBid      bool           `json:"isElectronicBid"`
	RequiresDeposit      bool           `json:"requiresDeposit"`
	ContractDuration     string         `json:"contractDuration"`
	QualificationSummary string         `json:"qualificationSummary"`
	Status               string         `json:"status"`
	FirstSeenAt          time.Time      `json:"firstSeenAt"`
	LastCheckedAt        time.Time      `json:"lastCheckedAt"`
}

// ArchivedTenderRecord is a TenderRecord after its move into the archive
// table. A tender lives in exactly one of the two tables at any time.
type ArchivedTenderRecord struct {
	TenderRecord
	ArchivedAt    time.Time     `json:"archivedAt"`
	ArchiveReason ArchiveReason `json:"archiveReason"`
}

// Candidate is one raw upstream listing record that survived classification.
// Candidates are ephemeral; only admitted ones become TenderRecords.
type Candidate struct {
	Identity    TenderIdentity
	Title       string
	UnitName    string
	MatchedRule MatchRule
}

// TenderDetail is the enrichment tuple the resolver extracts from the
// authoritative upstream detail record for an identity.
type TenderDetail struct {
	BudgetText           string
	DeadlineText         string
	PkPmsMain            string
	AwardType            string
	IsElectronicBid      bool
	RequiresDeposit      bool
	ContractDuration     string
	QualificationSummary string
	UnitName             string
	Status               string
}

// DetailURL builds the public detail page link for a resolved tender.
func DetailURL(pkPmsMain string) string {
	if pkPmsMain == "" {
		return ""
	}
	return fmt.Sprintf("https://web.pcc.gov.tw/tps/QueryTender/query/searchTenderDetail?pkPmsMain=%s", pkPmsMain)
}
