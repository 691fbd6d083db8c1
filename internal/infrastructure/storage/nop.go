package storage

import (
	"context"

	"go.uber.org/zap"

	"github.com/erp/receiving/internal/domain/receiving"
)

// NopArchive is used when archiving is disabled. It only logs.
type NopArchive struct {
	logger *zap.Logger
}

// NewNopArchive creates a NopArchive
func NewNopArchive(logger *zap.Logger) *NopArchive {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NopArchive{logger: logger}
}

// Archive discards snapshot
func (a *NopArchive) Archive(_ context.Context, snapshot *receiving.SessionSnapshot) error {
	a.logger.Debug("snapshot archiving disabled", zap.String("session", snapshot.Key.String()))
	return nil
}
