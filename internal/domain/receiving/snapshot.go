package receiving

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// SnapshotLine is the final state of one package in a completed session
type SnapshotLine struct {
	PackageID string
	GroupID   string
	UnitCount int
	// Expected is false for packages scanned under an earlier manifest
	// version and no longer listed.
	Expected  bool
	Scanned   bool
	ScannedBy string
	ScannedAt *time.Time
}

// IsDiscrepancy reports whether the line is an expected package that was never scanned
func (l SnapshotLine) IsDiscrepancy() bool {
	return l.Expected && !l.Scanned
}

// SessionSnapshot is the immutable record produced when a session is completed
type SessionSnapshot struct {
	ID               uuid.UUID
	Key              SessionKey
	ManifestVersion  int
	Lines            []SnapshotLine
	Groups           []GroupProgress
	ExpectedTotal    int
	ScannedTotal     int
	DiscrepancyCount int
	ExtraCount       int
	StartedAt        time.Time
	CompletedAt      time.Time
	CompletedBy      string
}

// BuildSnapshot assembles the snapshot of a session from its expected set and
// scan records. Lines are ordered by group then package id; extra lines
// (scans without a manifest entry) come last.
func BuildSnapshot(session *ReceivingSession, expected []ExpectedPackage, scans []ScanRecord, actor string, completedAt time.Time) *SessionSnapshot {
	agg := NewProgressAggregator(expected)
	byPackage := make(map[string]ScanRecord, len(scans))
	for _, s := range scans {
		if _, seen := byPackage[s.PackageID]; seen {
			continue
		}
		byPackage[s.PackageID] = s
		agg.Apply(s.PackageID)
	}

	lines := make([]SnapshotLine, 0, len(expected)+len(scans))
	listed := make(map[string]struct{}, len(expected))
	for _, p := range expected {
		if _, dup := listed[p.PackageID]; dup {
			continue
		}
		listed[p.PackageID] = struct{}{}
		line := SnapshotLine{
			PackageID: p.PackageID,
			GroupID:   p.GroupID,
			UnitCount: p.UnitCount,
			Expected:  true,
		}
		if s, ok := byPackage[p.PackageID]; ok {
			at := s.ScannedAt
			line.Scanned = true
			line.ScannedBy = s.Actor
			line.ScannedAt = &at
		}
		lines = append(lines, line)
	}
	sort.SliceStable(lines, func(i, j int) bool {
		if lines[i].GroupID != lines[j].GroupID {
			return lines[i].GroupID < lines[j].GroupID
		}
		return lines[i].PackageID < lines[j].PackageID
	})

	var extras []SnapshotLine
	for _, s := range byPackage {
		if _, ok := listed[s.PackageID]; ok {
			continue
		}
		at := s.ScannedAt
		extras = append(extras, SnapshotLine{
			PackageID: s.PackageID,
			Scanned:   true,
			ScannedBy: s.Actor,
			ScannedAt: &at,
		})
	}
	sort.Slice(extras, func(i, j int) bool { return extras[i].PackageID < extras[j].PackageID })
	lines = append(lines, extras...)

	progress := agg.Progress()
	return &SessionSnapshot{
		ID:               uuid.New(),
		Key:              session.Key,
		ManifestVersion:  session.ManifestVersion,
		Lines:            lines,
		Groups:           progress.Groups,
		ExpectedTotal:    progress.ExpectedTotal,
		ScannedTotal:     progress.ScannedTotal,
		DiscrepancyCount: progress.ExpectedTotal - progress.ScannedTotal,
		ExtraCount:       len(extras),
		StartedAt:        session.StartedAt,
		CompletedAt:      completedAt.UTC(),
		CompletedBy:      actor,
	}
}

// Discrepancies returns the expected package ids that were never scanned
func (s *SessionSnapshot) Discrepancies() []string {
	ids := make([]string, 0, s.DiscrepancyCount)
	for _, l := range s.Lines {
		if l.IsDiscrepancy() {
			ids = append(ids, l.PackageID)
		}
	}
	return ids
}
