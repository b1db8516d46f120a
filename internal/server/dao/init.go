package dao

import (
	"context"
	"fmt"

	"dataflow/internal/common"
	"dataflow/internal/server/model"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var db *gorm.DB

// Connect opens the metadata database named by conf and migrates it.
func Connect(conf common.Config) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch conf.DBDriver {
	case "mysql":
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
			conf.DBUser, conf.DBPassword, conf.DBHost, conf.DBPort, conf.DBName)
		dialector = mysql.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(conf.DBPath + "?_busy_timeout=5000")
	default:
		return nil, fmt.Errorf("%w: unknown DB_DRIVER %q", common.ErrConfiguration, conf.DBDriver)
	}

	database, err := gorm.Open(dialector, &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Warn),
		TranslateError:                           true,
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := database.AutoMigrate(
		&model.Project{},
		&model.DataSource{},
		&model.Pipeline{},
		&model.PipelineSource{},
		&model.Transformation{},
		&model.PipelineExecution{},
	); err != nil {
		return nil, err
	}
	return database, nil
}

// InitDB connects with the process config and installs the handle.
func InitDB() error {
	database, err := Connect(common.GetConfig())
	if err != nil {
		return err
	}
	db = database
	return nil
}

// UseDB installs an already opened handle, mostly for tests.
func UseDB(database *gorm.DB) {
	db = database
}

// Transaction runs fn with every DAO call made through ctx bound to one
// database transaction.
func Transaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}

type txKey struct{}

func conn(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return tx
	}
	return db.WithContext(ctx)
}
