package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/flyfile/internal/dbx"
	"github.com/dmitrijs2005/flyfile/internal/server/repositories/anonsenders"
	"github.com/dmitrijs2005/flyfile/internal/server/repositories/apikeys"
	"github.com/dmitrijs2005/flyfile/internal/server/repositories/events"
	"github.com/dmitrijs2005/flyfile/internal/server/repositories/files"
	"github.com/dmitrijs2005/flyfile/internal/server/repositories/otps"
	"github.com/dmitrijs2005/flyfile/internal/server/repositories/transfers"
	"github.com/dmitrijs2005/flyfile/internal/server/repositories/twofactor"
	"github.com/dmitrijs2005/flyfile/internal/server/repositories/users"
	"github.com/dmitrijs2005/flyfile/internal/server/repositories/webhooks"
)

type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Users(db dbx.DBTX) users.Repository
	Transfers(db dbx.DBTX) transfers.Repository
	Files(db dbx.DBTX) files.Repository
	AnonymousSenders(db dbx.DBTX) anonsenders.Repository
	OTPs(db dbx.DBTX) otps.Repository
	TwoFactor(db dbx.DBTX) twofactor.Repository
	APIKeys(db dbx.DBTX) apikeys.Repository
	Webhooks(db dbx.DBTX) webhooks.Repository
	Events(db dbx.DBTX) events.Repository
}
