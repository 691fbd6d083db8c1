package receiving

import (
	"sort"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// GroupProgress holds the expected and scanned counts of one delivery group
type GroupProgress struct {
	GroupID       string
	ExpectedCount int
	ScannedCount  int
}

// Percent returns scanned/expected as a percentage rounded to two places.
// A group with nothing expected reports 0.
func (g GroupProgress) Percent() decimal.Decimal {
	return percent(g.ScannedCount, g.ExpectedCount)
}

// IsFullyScanned reports whether every expected package of the group was scanned
func (g GroupProgress) IsFullyScanned() bool {
	return g.ExpectedCount > 0 && g.ScannedCount == g.ExpectedCount
}

// Remaining returns the number of packages still to be scanned
func (g GroupProgress) Remaining() int {
	return g.ExpectedCount - g.ScannedCount
}

// SessionProgress is a point-in-time rollup of a session
type SessionProgress struct {
	ExpectedTotal      int
	ScannedTotal       int
	GroupsTotal        int
	GroupsFullyScanned int
	Groups             []GroupProgress
}

// IsCompleteEligible reports whether the session may be finalized:
// every expected package was scanned and at least one was expected.
func (p SessionProgress) IsCompleteEligible() bool {
	return p.ExpectedTotal > 0 && p.ScannedTotal == p.ExpectedTotal
}

// Percent returns the session-level completion percentage
func (p SessionProgress) Percent() decimal.Decimal {
	return percent(p.ScannedTotal, p.ExpectedTotal)
}

// ProgressAggregator maintains group and session counts incrementally from
// accepted scans. Applying the same package twice has no effect. It is not
// safe for concurrent use; the owner serializes access.
type ProgressAggregator struct {
	groupOf      map[string]string
	groups       map[string]*GroupProgress
	applied      map[string]struct{}
	scannedTotal int
	fullyScanned int
}

// NewProgressAggregator creates an aggregator over the given expected set
func NewProgressAggregator(expected []ExpectedPackage) *ProgressAggregator {
	a := &ProgressAggregator{
		groupOf: make(map[string]string, len(expected)),
		groups:  make(map[string]*GroupProgress),
		applied: make(map[string]struct{}),
	}
	for _, p := range expected {
		if _, dup := a.groupOf[p.PackageID]; dup {
			continue
		}
		a.groupOf[p.PackageID] = p.GroupID
		g, ok := a.groups[p.GroupID]
		if !ok {
			g = &GroupProgress{GroupID: p.GroupID}
			a.groups[p.GroupID] = g
		}
		g.ExpectedCount++
	}
	return a
}

// Apply counts packageID as scanned. It returns false when the package was
// already counted or is not part of the expected set.
func (a *ProgressAggregator) Apply(packageID string) bool {
	if _, done := a.applied[packageID]; done {
		return false
	}
	groupID, ok := a.groupOf[packageID]
	if !ok {
		return false
	}
	g := a.groups[groupID]
	if g.ScannedCount >= g.ExpectedCount {
		return false
	}

	a.applied[packageID] = struct{}{}
	g.ScannedCount++
	a.scannedTotal++
	if g.IsFullyScanned() {
		a.fullyScanned++
	}
	return true
}

// Expects reports whether packageID belongs to the expected set and returns its group
func (a *ProgressAggregator) Expects(packageID string) (string, bool) {
	groupID, ok := a.groupOf[packageID]
	return groupID, ok
}

// IsApplied reports whether packageID has been counted
func (a *ProgressAggregator) IsApplied(packageID string) bool {
	_, ok := a.applied[packageID]
	return ok
}

// Group returns the progress of one group
func (a *ProgressAggregator) Group(groupID string) (GroupProgress, bool) {
	g, ok := a.groups[groupID]
	if !ok {
		return GroupProgress{}, false
	}
	return *g, true
}

// ExpectedTotal returns the number of expected packages
func (a *ProgressAggregator) ExpectedTotal() int {
	return len(a.groupOf)
}

// ScannedTotal returns the number of counted packages
func (a *ProgressAggregator) ScannedTotal() int {
	return a.scannedTotal
}

// IsCompleteEligible reports whether the session may be finalized
func (a *ProgressAggregator) IsCompleteEligible() bool {
	return a.ExpectedTotal() > 0 && a.scannedTotal == a.ExpectedTotal()
}

// Progress returns a copy of the current rollup with groups ordered by id
func (a *ProgressAggregator) Progress() SessionProgress {
	groups := make([]GroupProgress, 0, len(a.groups))
	for _, g := range a.groups {
		groups = append(groups, *g)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].GroupID < groups[j].GroupID })

	return SessionProgress{
		ExpectedTotal:      a.ExpectedTotal(),
		ScannedTotal:       a.scannedTotal,
		GroupsTotal:        len(a.groups),
		GroupsFullyScanned: a.fullyScanned,
		Groups:             groups,
	}
}

func percent(scanned, expected int) decimal.Decimal {
	if expected == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(scanned)).
		Mul(hundred).
		Div(decimal.NewFromInt(int64(expected))).
		Round(2)
}
