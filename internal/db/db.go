package db

import (
	"time"

	"ethapplist/internal/logger"
	"ethapplist/internal/models"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Open connects to postgres and migrates the schema.
func Open(dsn string, log *logger.Logger) (*gorm.DB, error) {
	gdb, err := gorm.Open(postgres.Open(dsn), Config(log))
	if err != nil {
		return nil, errors.Wrap(err, "connect to database")
	}
	log.Info("Database connection established")

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, errors.Wrap(err, "database handle")
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	if err := Migrate(gdb); err != nil {
		return nil, err
	}
	log.Info("Database migration completed")

	if err := Seed(gdb, log); err != nil {
		return nil, err
	}
	return gdb, nil
}

// Config is the gorm configuration shared by every dialect.
func Config(log *logger.Logger) *gorm.Config {
	return &gorm.Config{
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
		Logger: gormlogger.New(gormWriter{log: log}, gormlogger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	}
}

func Migrate(gdb *gorm.DB) error {
	err := gdb.AutoMigrate(
		&models.Account{},
		&models.Category{},
		&models.Chain{},
		&models.Product{},
		&models.Revision{},
		&models.ChangeDecision{},
		&models.Vote{},
		&models.Rating{},
	)
	return errors.Wrap(err, "migrate database")
}

// Seed creates the initial categories and chains on an empty database.
func Seed(gdb *gorm.DB, log *logger.Logger) error {
	var count int64
	if err := gdb.Model(&models.Category{}).Count(&count).Error; err != nil {
		return errors.Wrap(err, "count categories")
	}
	if count > 0 {
		log.Debug("Reference data already seeded, skipping")
		return nil
	}

	categories := []models.Category{
		{Name: "DeFi", Description: "Lending, exchanges and other financial protocols"},
		{Name: "NFT", Description: "Marketplaces, collections and tooling for NFTs"},
		{Name: "DAO", Description: "Governance and treasury tooling"},
		{Name: "Gaming", Description: "Onchain games"},
		{Name: "Infrastructure", Description: "Nodes, indexers, oracles and developer tools"},
		{Name: "Social", Description: "Decentralized social applications"},
		{Name: "Wallets", Description: "Wallets and account tooling"},
		{Name: "Bridges", Description: "Cross chain bridges"},
	}
	chains := []models.Chain{
		{ID: "ethereum", Name: "Ethereum", Icon: "/chains/ethereum.svg"},
		{ID: "optimism", Name: "Optimism", Icon: "/chains/optimism.svg"},
		{ID: "arbitrum", Name: "Arbitrum", Icon: "/chains/arbitrum.svg"},
		{ID: "base", Name: "Base", Icon: "/chains/base.svg"},
		{ID: "polygon", Name: "Polygon", Icon: "/chains/polygon.svg"},
		{ID: "zksync", Name: "zkSync", Icon: "/chains/zksync.svg"},
	}

	err := gdb.Transaction(func(tx *gorm.DB) error {
		for i := range categories {
			categories[i].ID = uuid.NewString()
		}
		if err := tx.Create(&categories).Error; err != nil {
			return err
		}
		var chainCount int64
		if err := tx.Model(&models.Chain{}).Count(&chainCount).Error; err != nil {
			return err
		}
		if chainCount == 0 {
			return tx.Create(&chains).Error
		}
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "seed reference data")
	}
	log.Info("Initial categories and chains created", "categories", len(categories), "chains", len(chains))
	return nil
}

type gormWriter struct {
	log *logger.Logger
}

func (w gormWriter) Printf(format string, args ...interface{}) {
	w.log.ZapLogger.Warnf(format, args...)
}
