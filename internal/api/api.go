package api

import (
	"context"

	"go.uber.org/zap"

	"github.com/spectriclabs/gmrt-ingest/internal/config"
	"github.com/spectriclabs/gmrt-ingest/internal/fileset"
	"github.com/spectriclabs/gmrt-ingest/internal/rawblock"
)

// SessionFunc opens a fresh reading session over the file set. The
// returned function releases the underlying files.
type SessionFunc func(ctx context.Context) (*rawblock.Session, func(), error)

type API struct {
	Cfg         *config.Configuration
	Meta        *fileset.Metadata
	OpenSession SessionFunc
	Logger      *zap.Logger
}

func NewAPI(cfg *config.Configuration, meta *fileset.Metadata, open SessionFunc, logger *zap.Logger) *API {
	return &API{
		Cfg:         cfg,
		Meta:        meta,
		OpenSession: open,
		Logger:      logger,
	}
}
