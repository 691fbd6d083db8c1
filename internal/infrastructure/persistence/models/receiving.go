package models

import (
	"time"

	"github.com/erp/receiving/internal/domain/receiving"
	"github.com/erp/receiving/internal/domain/shared"
	"github.com/google/uuid"
)

// sessionKeyColumns are embedded by every table scoped to a receiving session
type sessionKeyColumns struct {
	Location    string `gorm:"type:varchar(64);not null"`
	SessionDate string `gorm:"type:varchar(10);not null"`
}

func keyColumns(k receiving.SessionKey) sessionKeyColumns {
	return sessionKeyColumns{Location: k.Location, SessionDate: k.DateString()}
}

func (c sessionKeyColumns) key() receiving.SessionKey {
	k, err := receiving.ParseSessionKey(c.Location, c.SessionDate)
	if err != nil {
		// Rows are only ever written through keyColumns.
		return receiving.SessionKey{Location: c.Location}
	}
	return k
}

// ExpectedPackageModel is the persistence model for a manifest entry
type ExpectedPackageModel struct {
	ID          uint64    `gorm:"primaryKey;autoIncrement"`
	Location    string    `gorm:"type:varchar(64);not null;uniqueIndex:uq_expected_packages_session_package,priority:1"`
	SessionDate string    `gorm:"type:varchar(10);not null;uniqueIndex:uq_expected_packages_session_package,priority:2"`
	PackageID   string    `gorm:"type:varchar(128);not null;uniqueIndex:uq_expected_packages_session_package,priority:3"`
	GroupID     string    `gorm:"type:varchar(128);not null"`
	UnitCount   int       `gorm:"not null;default:0"`
	CreatedAt   time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (ExpectedPackageModel) TableName() string {
	return "expected_packages"
}

// ToDomain converts the persistence model to a domain ExpectedPackage
func (m *ExpectedPackageModel) ToDomain() receiving.ExpectedPackage {
	return receiving.ExpectedPackage{
		PackageID: m.PackageID,
		GroupID:   m.GroupID,
		Key:       sessionKeyColumns{Location: m.Location, SessionDate: m.SessionDate}.key(),
		UnitCount: m.UnitCount,
	}
}

// FromDomain populates the model from a domain ExpectedPackage
func (m *ExpectedPackageModel) FromDomain(p receiving.ExpectedPackage) {
	cols := keyColumns(p.Key)
	m.Location = cols.Location
	m.SessionDate = cols.SessionDate
	m.PackageID = p.PackageID
	m.GroupID = p.GroupID
	m.UnitCount = p.UnitCount
}

// ScanRecordModel is the persistence model for a scan record.
// The unique index enforces one record per package per session.
type ScanRecordModel struct {
	ID          uint64    `gorm:"primaryKey;autoIncrement"`
	Location    string    `gorm:"type:varchar(64);not null;uniqueIndex:uq_scan_records_session_package,priority:1"`
	SessionDate string    `gorm:"type:varchar(10);not null;uniqueIndex:uq_scan_records_session_package,priority:2"`
	PackageID   string    `gorm:"type:varchar(128);not null;uniqueIndex:uq_scan_records_session_package,priority:3"`
	Actor       string    `gorm:"type:varchar(128);not null"`
	ScannedAt   time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (ScanRecordModel) TableName() string {
	return "scan_records"
}

// ToDomain converts the persistence model to a domain ScanRecord
func (m *ScanRecordModel) ToDomain() receiving.ScanRecord {
	return receiving.ScanRecord{
		PackageID: m.PackageID,
		Key:       sessionKeyColumns{Location: m.Location, SessionDate: m.SessionDate}.key(),
		Actor:     m.Actor,
		ScannedAt: m.ScannedAt.UTC(),
	}
}

// FromDomain populates the model from a domain ScanRecord
func (m *ScanRecordModel) FromDomain(r *receiving.ScanRecord) {
	cols := keyColumns(r.Key)
	m.Location = cols.Location
	m.SessionDate = cols.SessionDate
	m.PackageID = r.PackageID
	m.Actor = r.Actor
	m.ScannedAt = r.ScannedAt
}

// ReceivingSessionModel is the persistence model for a receiving session
type ReceivingSessionModel struct {
	Location        string                  `gorm:"type:varchar(64);primaryKey"`
	SessionDate     string                  `gorm:"type:varchar(10);primaryKey"`
	Status          receiving.SessionStatus `gorm:"type:varchar(20);not null;default:'OPEN'"`
	ManifestVersion int                     `gorm:"not null;default:1"`
	Version         int                     `gorm:"not null;default:1"`
	StartedAt       time.Time               `gorm:"not null"`
	CompletedAt     *time.Time
	CompletedBy     string     `gorm:"type:varchar(128)"`
	SnapshotID      *uuid.UUID `gorm:"type:uuid"`
	UpdatedAt       time.Time  `gorm:"not null"`
}

// TableName returns the table name for GORM
func (ReceivingSessionModel) TableName() string {
	return "receiving_sessions"
}

// ToDomain converts the persistence model to a domain ReceivingSession
func (m *ReceivingSessionModel) ToDomain() *receiving.ReceivingSession {
	return &receiving.ReceivingSession{
		Aggregate:       shared.Aggregate{Version: m.Version},
		Key:             sessionKeyColumns{Location: m.Location, SessionDate: m.SessionDate}.key(),
		Status:          m.Status,
		ManifestVersion: m.ManifestVersion,
		StartedAt:       m.StartedAt.UTC(),
		CompletedAt:     m.CompletedAt,
		CompletedBy:     m.CompletedBy,
		SnapshotID:      m.SnapshotID,
	}
}

// FromDomain populates the model from a domain ReceivingSession
func (m *ReceivingSessionModel) FromDomain(s *receiving.ReceivingSession) {
	cols := keyColumns(s.Key)
	m.Location = cols.Location
	m.SessionDate = cols.SessionDate
	m.Status = s.Status
	m.ManifestVersion = s.ManifestVersion
	m.Version = s.Version
	m.StartedAt = s.StartedAt
	m.CompletedAt = s.CompletedAt
	m.CompletedBy = s.CompletedBy
	m.SnapshotID = s.SnapshotID
}

// SessionSnapshotModel is the persistence model for a session snapshot.
// The unique session index makes the snapshot write-once.
type SessionSnapshotModel struct {
	ID               uuid.UUID            `gorm:"type:uuid;primaryKey"`
	Location         string               `gorm:"type:varchar(64);not null;uniqueIndex:uq_session_snapshots_session,priority:1"`
	SessionDate      string               `gorm:"type:varchar(10);not null;uniqueIndex:uq_session_snapshots_session,priority:2"`
	ManifestVersion  int                  `gorm:"not null"`
	ExpectedTotal    int                  `gorm:"not null"`
	ScannedTotal     int                  `gorm:"not null"`
	DiscrepancyCount int                  `gorm:"not null"`
	ExtraCount       int                  `gorm:"not null"`
	StartedAt        time.Time            `gorm:"not null"`
	CompletedAt      time.Time            `gorm:"not null"`
	CompletedBy      string               `gorm:"type:varchar(128);not null"`
	Lines            []SnapshotLineModel  `gorm:"foreignKey:SnapshotID;references:ID"`
	Groups           []SnapshotGroupModel `gorm:"foreignKey:SnapshotID;references:ID"`
}

// TableName returns the table name for GORM
func (SessionSnapshotModel) TableName() string {
	return "session_snapshots"
}

// SnapshotLineModel is one package line of a snapshot
type SnapshotLineModel struct {
	ID         uint64    `gorm:"primaryKey;autoIncrement"`
	SnapshotID uuid.UUID `gorm:"type:uuid;not null;index"`
	Position   int       `gorm:"not null"`
	PackageID  string    `gorm:"type:varchar(128);not null"`
	GroupID    string    `gorm:"type:varchar(128)"`
	UnitCount  int       `gorm:"not null;default:0"`
	Expected   bool      `gorm:"not null"`
	Scanned    bool      `gorm:"not null"`
	ScannedBy  string    `gorm:"type:varchar(128)"`
	ScannedAt  *time.Time
}

// TableName returns the table name for GORM
func (SnapshotLineModel) TableName() string {
	return "snapshot_lines"
}

// SnapshotGroupModel holds the final counts of one group in a snapshot
type SnapshotGroupModel struct {
	ID            uint64    `gorm:"primaryKey;autoIncrement"`
	SnapshotID    uuid.UUID `gorm:"type:uuid;not null;index"`
	GroupID       string    `gorm:"type:varchar(128);not null"`
	ExpectedCount int       `gorm:"not null"`
	ScannedCount  int       `gorm:"not null"`
}

// TableName returns the table name for GORM
func (SnapshotGroupModel) TableName() string {
	return "snapshot_groups"
}

// ToDomain converts the persistence model to a domain SessionSnapshot
func (m *SessionSnapshotModel) ToDomain() *receiving.SessionSnapshot {
	snap := &receiving.SessionSnapshot{
		ID:               m.ID,
		Key:              sessionKeyColumns{Location: m.Location, SessionDate: m.SessionDate}.key(),
		ManifestVersion:  m.ManifestVersion,
		ExpectedTotal:    m.ExpectedTotal,
		ScannedTotal:     m.ScannedTotal,
		DiscrepancyCount: m.DiscrepancyCount,
		ExtraCount:       m.ExtraCount,
		StartedAt:        m.StartedAt.UTC(),
		CompletedAt:      m.CompletedAt.UTC(),
		CompletedBy:      m.CompletedBy,
		Lines:            make([]receiving.SnapshotLine, len(m.Lines)),
		Groups:           make([]receiving.GroupProgress, len(m.Groups)),
	}
	for i, l := range m.Lines {
		snap.Lines[i] = receiving.SnapshotLine{
			PackageID: l.PackageID,
			GroupID:   l.GroupID,
			UnitCount: l.UnitCount,
			Expected:  l.Expected,
			Scanned:   l.Scanned,
			ScannedBy: l.ScannedBy,
			ScannedAt: l.ScannedAt,
		}
	}
	for i, g := range m.Groups {
		snap.Groups[i] = receiving.GroupProgress{
			GroupID:       g.GroupID,
			ExpectedCount: g.ExpectedCount,
			ScannedCount:  g.ScannedCount,
		}
	}
	return snap
}

// FromDomain populates the model and its children from a domain SessionSnapshot
func (m *SessionSnapshotModel) FromDomain(s *receiving.SessionSnapshot) {
	cols := keyColumns(s.Key)
	m.ID = s.ID
	m.Location = cols.Location
	m.SessionDate = cols.SessionDate
	m.ManifestVersion = s.ManifestVersion
	m.ExpectedTotal = s.ExpectedTotal
	m.ScannedTotal = s.ScannedTotal
	m.DiscrepancyCount = s.DiscrepancyCount
	m.ExtraCount = s.ExtraCount
	m.StartedAt = s.StartedAt
	m.CompletedAt = s.CompletedAt
	m.CompletedBy = s.CompletedBy

	m.Lines = make([]SnapshotLineModel, len(s.Lines))
	for i, l := range s.Lines {
		m.Lines[i] = SnapshotLineModel{
			SnapshotID: s.ID,
			Position:   i,
			PackageID:  l.PackageID,
			GroupID:    l.GroupID,
			UnitCount:  l.UnitCount,
			Expected:   l.Expected,
			Scanned:    l.Scanned,
			ScannedBy:  l.ScannedBy,
			ScannedAt:  l.ScannedAt,
		}
	}
	m.Groups = make([]SnapshotGroupModel, len(s.Groups))
	for i, g := range s.Groups {
		m.Groups[i] = SnapshotGroupModel{
			SnapshotID:    s.ID,
			GroupID:       g.GroupID,
			ExpectedCount: g.ExpectedCount,
			ScannedCount:  g.ScannedCount,
		}
	}
}

// AllModels returns every receiving model, in dependency order, for AutoMigrate
func AllModels() []any {
	return []any{
		&ExpectedPackageModel{},
		&ScanRecordModel{},
		&ReceivingSessionModel{},
		&SessionSnapshotModel{},
		&SnapshotLineModel{},
		&SnapshotGroupModel{},
	}
}
