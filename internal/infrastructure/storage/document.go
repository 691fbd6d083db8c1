package storage

import (
	"time"

	"github.com/erp/receiving/internal/domain/receiving"
)

// archiveDocument is the stable JSON layout of an archived snapshot
type archiveDocument struct {
	SnapshotID       string         `json:"snapshot_id"`
	Location         string         `json:"location"`
	SessionDate      string         `json:"session_date"`
	ManifestVersion  int            `json:"manifest_version"`
	ExpectedTotal    int            `json:"expected_total"`
	ScannedTotal     int            `json:"scanned_total"`
	DiscrepancyCount int            `json:"discrepancy_count"`
	ExtraCount       int            `json:"extra_count"`
	StartedAt        time.Time      `json:"started_at"`
	CompletedAt      time.Time      `json:"completed_at"`
	CompletedBy      string         `json:"completed_by"`
	ArchivedAt       time.Time      `json:"archived_at"`
	Groups           []archiveGroup `json:"groups"`
	Lines            []archiveLine  `json:"lines"`
}

type archiveGroup struct {
	GroupID       string `json:"group_id"`
	ExpectedCount int    `json:"expected_count"`
	ScannedCount  int    `json:"scanned_count"`
	Percent       string `json:"percent"`
}

type archiveLine struct {
	PackageID string     `json:"package_id"`
	GroupID   string     `json:"group_id"`
	UnitCount int        `json:"unit_count"`
	Expected  bool       `json:"expected"`
	Scanned   bool       `json:"scanned"`
	ScannedBy string     `json:"scanned_by,omitempty"`
	ScannedAt *time.Time `json:"scanned_at,omitempty"`
}

func newArchiveDocument(s *receiving.SessionSnapshot, archivedAt time.Time) archiveDocument {
	doc := archiveDocument{
		SnapshotID:       s.ID.String(),
		Location:         s.Key.Location,
		SessionDate:      s.Key.DateString(),
		ManifestVersion:  s.ManifestVersion,
		ExpectedTotal:    s.ExpectedTotal,
		ScannedTotal:     s.ScannedTotal,
		DiscrepancyCount: s.DiscrepancyCount,
		ExtraCount:       s.ExtraCount,
		StartedAt:        s.StartedAt,
		CompletedAt:      s.CompletedAt,
		CompletedBy:      s.CompletedBy,
		ArchivedAt:       archivedAt,
		Groups:           make([]archiveGroup, 0, len(s.Groups)),
		Lines:            make([]archiveLine, 0, len(s.Lines)),
	}
	for _, g := range s.Groups {
		doc.Groups = append(doc.Groups, archiveGroup{
			GroupID:       g.GroupID,
			ExpectedCount: g.ExpectedCount,
			ScannedCount:  g.ScannedCount,
			Percent:       g.Percent().StringFixed(2),
		})
	}
	for _, l := range s.Lines {
		doc.Lines = append(doc.Lines, archiveLine(l))
	}
	return doc
}
