package payments

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/sagapay/backend/pkg/db/models"
	"github.com/sagapay/backend/pkg/logger"
)

// demoBalances is the ledger installed in dev environments so the saga can be
// exercised without an onboarding flow.
var demoBalances = []models.UserBalance{
	{UserID: 101, Balance: 5000},
	{UserID: 102, Balance: 3000},
	{UserID: 103, Balance: 4200},
	{UserID: 104, Balance: 20000},
	{UserID: 105, Balance: 999},
}

// SeedBalances inserts the demo balance rows, leaving existing rows alone so
// restarts never reset money that already moved.
func SeedBalances(ctx context.Context, db *gorm.DB, logg *logger.Logger) error {
	rows := make([]models.UserBalance, len(demoBalances))
	copy(rows, demoBalances)

	err := db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&rows).Error
	if err != nil {
		return err
	}
	if logg != nil {
		logg.Info(ctx, "demo balances seeded")
	}
	return nil
}
