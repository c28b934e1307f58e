package platform

import (
	"fmt"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var (
	DB *gorm.DB
)

// Dialector picks the gorm driver configured by DB_DRIVER.
func Dialector(settings Settings) (gorm.Dialector, error) {
	switch settings.DBDriver {
	case "mysql", "":
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
			settings.SQLUser, settings.SQLPassword, settings.SQLHost, settings.SQLPort, settings.SQLDBName)
		return mysql.Open(dsn), nil
	case "postgres":
		if settings.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required for the postgres driver")
		}
		return postgres.Open(settings.DatabaseURL), nil
	case "sqlite":
		return sqlite.Open(settings.SQLitePath), nil
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", settings.DBDriver)
	}
}

// InitDB opens the database and stores the handle in DB.
func InitDB(settings Settings) (*gorm.DB, error) {
	dialector, err := Dialector(settings)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	DB = db
	return db, nil
}
