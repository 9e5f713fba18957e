package common

import (
	"fmt"

	"github.com/jinzhu/gorm"
	_ "github.com/jinzhu/gorm/dialects/mysql"
	"github.com/pkg/errors"

	"github.com/bytom/peggateway/config"
)

const dsnTemplate = "%s:%s@tcp(%s:%d)/%s?charset=utf8&parseTime=true&loc=Local&clientFoundRows=true"

func NewMySQLDB(cfg config.MySQLConfig) (*gorm.DB, error) {
	conn := cfg.Connection
	dsn := fmt.Sprintf(dsnTemplate, conn.Username, conn.Password, conn.Host, conn.Port, conn.DbName)
	db, err := gorm.Open("mysql", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open db cluster")
	}

	db.LogMode(cfg.LogMode)
	if err = db.DB().Ping(); err != nil {
		return nil, errors.Wrap(err, "ping db")
	}

	return db, nil
}
