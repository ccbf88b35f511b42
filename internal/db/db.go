package db

import (
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/staylight/livechat/internal/logging"
)

// Connect opens the MySQL connection pool and fails hard on error; the
// process is useless without its store.
func Connect(dsn string) *gorm.DB {
	gdb, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		logging.Fatal().Err(err).Msg("open database")
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		logging.Fatal().Err(err).Msg("unwrap sql.DB")
	}
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return gdb
}
