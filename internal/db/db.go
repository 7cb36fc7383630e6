package db

import (
	"log"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/suPer8Hu/aura-api/internal/generation"
	"github.com/suPer8Hu/aura-api/internal/moderation"
	"github.com/suPer8Hu/aura-api/internal/preset"
	"github.com/suPer8Hu/aura-api/internal/quota"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

const sqlitePrefix = "sqlite:"

// Connect opens MySQL, or an embedded SQLite file when the DSN starts with "sqlite:".
func Connect(dsn string) *gorm.DB {
	cfg := &gorm.Config{
		NowFunc: func() time.Time { return time.Now().UTC() },
	}

	var dialector gorm.Dialector
	if strings.HasPrefix(dsn, sqlitePrefix) {
		dialector = sqlite.Open(strings.TrimPrefix(dsn, sqlitePrefix))
	} else {
		dialector = mysql.Open(dsn)
	}

	gdb, err := gorm.Open(dialector, cfg)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		log.Fatalf("db handle: %v", err)
	}
	if strings.HasPrefix(dsn, sqlitePrefix) {
		// sqlite allows a single writer
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(20)
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}
	return gdb
}

// Models lists every table the service owns.
func Models() []any {
	return []any{
		&preset.Preset{},
		&generation.Generation{},
		&generation.Asset{},
		&quota.Subscription{},
		&moderation.BlockedTerm{},
	}
}

func AutoMigrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(Models()...)
}
