package receiving

import (
	"time"

	"github.com/erp/receiving/internal/domain/receiving"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ScanResult is the typed answer to a RegisterScan call. Business rejections
// are outcomes, never errors.
type ScanResult struct {
	Session   receiving.SessionKey   `json:"session"`
	PackageID string                 `json:"package_id"`
	Outcome   receiving.ScanOutcome  `json:"outcome"`
	Reason    string                 `json:"reason"`
	Retryable bool                   `json:"retryable"`
	GroupID   string                 `json:"group_id,omitempty"`
	ScannedAt *time.Time             `json:"scanned_at,omitempty"`
	Group     *GroupProgressResponse `json:"group,omitempty"`
}

func newScanResult(key receiving.SessionKey, packageID string, outcome receiving.ScanOutcome) *ScanResult {
	return &ScanResult{
		Session:   key,
		PackageID: packageID,
		Outcome:   outcome,
		Reason:    outcome.Reason(),
		Retryable: outcome.Retryable(),
	}
}

// CompletionResult is the typed answer to a RequestCompletion call
type CompletionResult struct {
	Session  receiving.SessionKey        `json:"session"`
	Outcome  receiving.CompletionOutcome `json:"outcome"`
	Reason   string                      `json:"reason"`
	Snapshot *SnapshotResponse           `json:"snapshot,omitempty"`
	Progress *ProgressResponse           `json:"progress,omitempty"`
}

func newCompletionResult(key receiving.SessionKey, outcome receiving.CompletionOutcome) *CompletionResult {
	return &CompletionResult{Session: key, Outcome: outcome, Reason: outcome.Reason()}
}

// GroupProgressResponse is the live progress of one delivery group
type GroupProgressResponse struct {
	GroupID       string          `json:"group_id"`
	ExpectedCount int             `json:"expected_count"`
	ScannedCount  int             `json:"scanned_count"`
	Remaining     int             `json:"remaining"`
	Percent       decimal.Decimal `json:"percent"`
	FullyScanned  bool            `json:"fully_scanned"`
}

// ToGroupProgressResponse converts a domain GroupProgress
func ToGroupProgressResponse(g receiving.GroupProgress) GroupProgressResponse {
	return GroupProgressResponse{
		GroupID:       g.GroupID,
		ExpectedCount: g.ExpectedCount,
		ScannedCount:  g.ScannedCount,
		Remaining:     g.Remaining(),
		Percent:       g.Percent(),
		FullyScanned:  g.IsFullyScanned(),
	}
}

// PackageStatus is one expected package in the live view
type PackageStatus struct {
	PackageID string     `json:"package_id"`
	GroupID   string     `json:"group_id"`
	UnitCount int        `json:"unit_count"`
	Scanned   bool       `json:"scanned"`
	ScannedBy string     `json:"scanned_by,omitempty"`
	ScannedAt *time.Time `json:"scanned_at,omitempty"`
}

// ProgressResponse is the full live view of a session. It is also the
// resync frame sent to observers on (re)connect.
type ProgressResponse struct {
	Session            receiving.SessionKey    `json:"session"`
	Status             receiving.SessionStatus `json:"status"`
	ManifestVersion    int                     `json:"manifest_version"`
	ScanningEnabled    bool                    `json:"scanning_enabled"`
	ExpectedTotal      int                     `json:"expected_total"`
	ScannedTotal       int                     `json:"scanned_total"`
	GroupsTotal        int                     `json:"groups_total"`
	GroupsFullyScanned int                     `json:"groups_fully_scanned"`
	Percent            decimal.Decimal         `json:"percent"`
	CompleteEligible   bool                    `json:"complete_eligible"`
	SnapshotID         *uuid.UUID              `json:"snapshot_id,omitempty"`
	StartedAt          time.Time               `json:"started_at"`
	Groups             []GroupProgressResponse `json:"groups"`
	Packages           []PackageStatus         `json:"packages"`
}

// ToProgressResponse converts a session view
func ToProgressResponse(v *SessionView) *ProgressResponse {
	p := v.Progress
	resp := &ProgressResponse{
		Session:            v.Key,
		Status:             v.Status,
		ManifestVersion:    v.ManifestVersion,
		ScanningEnabled:    !v.IsCompleted(),
		ExpectedTotal:      p.ExpectedTotal,
		ScannedTotal:       p.ScannedTotal,
		GroupsTotal:        p.GroupsTotal,
		GroupsFullyScanned: p.GroupsFullyScanned,
		Percent:            p.Percent(),
		CompleteEligible:   p.IsCompleteEligible(),
		SnapshotID:         v.SnapshotID,
		StartedAt:          v.StartedAt,
		Groups:             make([]GroupProgressResponse, len(p.Groups)),
		Packages:           make([]PackageStatus, 0, len(v.Expected)),
	}
	for i, g := range p.Groups {
		resp.Groups[i] = ToGroupProgressResponse(g)
	}

	scanned := make(map[string]receiving.ScanRecord, len(v.Scanned))
	for _, s := range v.Scanned {
		scanned[s.PackageID] = s
	}
	for _, e := range v.Expected {
		ps := PackageStatus{PackageID: e.PackageID, GroupID: e.GroupID, UnitCount: e.UnitCount}
		if s, ok := scanned[e.PackageID]; ok {
			at := s.ScannedAt
			ps.Scanned = true
			ps.ScannedBy = s.Actor
			ps.ScannedAt = &at
		}
		resp.Packages = append(resp.Packages, ps)
	}
	return resp
}

// SnapshotLineResponse is one package line of a snapshot
type SnapshotLineResponse struct {
	PackageID string     `json:"package_id"`
	GroupID   string     `json:"group_id,omitempty"`
	UnitCount int        `json:"unit_count"`
	Expected  bool       `json:"expected"`
	Scanned   bool       `json:"scanned"`
	ScannedBy string     `json:"scanned_by,omitempty"`
	ScannedAt *time.Time `json:"scanned_at,omitempty"`
}

// SnapshotResponse is the immutable summary of a completed session
type SnapshotResponse struct {
	ID               uuid.UUID               `json:"id"`
	Session          receiving.SessionKey    `json:"session"`
	ManifestVersion  int                     `json:"manifest_version"`
	ExpectedTotal    int                     `json:"expected_total"`
	ScannedTotal     int                     `json:"scanned_total"`
	DiscrepancyCount int                     `json:"discrepancy_count"`
	Discrepancies    []string                `json:"discrepancies"`
	ExtraCount       int                     `json:"extra_count"`
	StartedAt        time.Time               `json:"started_at"`
	CompletedAt      time.Time               `json:"completed_at"`
	CompletedBy      string                  `json:"completed_by"`
	Groups           []GroupProgressResponse `json:"groups"`
	Lines            []SnapshotLineResponse  `json:"lines"`
}

// ToSnapshotResponse converts a domain SessionSnapshot
func ToSnapshotResponse(s *receiving.SessionSnapshot) *SnapshotResponse {
	if s == nil {
		return nil
	}
	resp := &SnapshotResponse{
		ID:               s.ID,
		Session:          s.Key,
		ManifestVersion:  s.ManifestVersion,
		ExpectedTotal:    s.ExpectedTotal,
		ScannedTotal:     s.ScannedTotal,
		DiscrepancyCount: s.DiscrepancyCount,
		Discrepancies:    s.Discrepancies(),
		ExtraCount:       s.ExtraCount,
		StartedAt:        s.StartedAt,
		CompletedAt:      s.CompletedAt,
		CompletedBy:      s.CompletedBy,
		Groups:           make([]GroupProgressResponse, len(s.Groups)),
		Lines:            make([]SnapshotLineResponse, len(s.Lines)),
	}
	for i, g := range s.Groups {
		resp.Groups[i] = ToGroupProgressResponse(g)
	}
	for i, l := range s.Lines {
		resp.Lines[i] = SnapshotLineResponse(l)
	}
	return resp
}

// ManifestPackageInput is one entry of a manifest reload
type ManifestPackageInput struct {
	PackageID string `json:"package_id" validate:"required,max=128"`
	GroupID   string `json:"group_id" validate:"required,max=128"`
	UnitCount int    `json:"unit_count" validate:"gte=0"`
}

// ReloadManifestRequest replaces the expected set of an open session
type ReloadManifestRequest struct {
	Packages []ManifestPackageInput `json:"packages" validate:"dive"`
}
