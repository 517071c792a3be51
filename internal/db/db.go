package db

import (
	"fmt"

	_ "github.com/lib/pq"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"talentmail/internal/config"
	"talentmail/internal/models"
)

// Connect opens the postgres store through the lib/pq driver and runs migrations
func Connect(cfg *config.Config) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Database.Host,
		cfg.Database.Port,
		cfg.Database.User,
		cfg.Database.Password,
		cfg.Database.Name,
		cfg.Database.SSLMode,
	)

	logLevel := logger.Warn
	if !cfg.IsProduction() {
		logLevel = logger.Info
	}

	db, err := gorm.Open(postgres.New(postgres.Config{
		DriverName: "postgres",
		DSN:        dsn,
	}), &gorm.Config{
		Logger:         logger.Default.LogMode(logLevel),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := Migrate(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return db, nil
}

// Migrate creates or updates every table the engine owns
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Domain{},
		&models.User{},
		&models.Candidate{},
		&models.CandidateEmail{},
		&models.SubscriptionPreference{},
		&models.Smartlist{},
		&models.EmailClient{},
		&models.EmailClientCredentials{},
		&models.Campaign{},
		&models.CampaignSmartlist{},
		&models.Blast{},
		&models.Send{},
		&models.URLConversion{},
		&models.CampaignActivity{},
		&models.BounceEvent{},
		&models.Conversation{},
	)
}

func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
