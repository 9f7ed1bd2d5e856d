package pool

import (
	"database/sql"
	"fmt"

	"github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"

	"github.com/ice-blockchain/go-dbrouter"
)

// Opener creates the database handle backing a pool. It must not
// establish connections eagerly.
type Opener interface {
	Open(cfg dbrouter.EndpointConfig) (*sql.DB, error)
}

type OpenerFunc func(cfg dbrouter.EndpointConfig) (*sql.DB, error)

func (f OpenerFunc) Open(cfg dbrouter.EndpointConfig) (*sql.DB, error) {
	return f(cfg)
}

// DefaultOpener opens MySQL endpoints, or SQLite ones when Driver is
// "sqlite3".
var DefaultOpener Opener = OpenerFunc(openEndpoint)

func openEndpoint(cfg dbrouter.EndpointConfig) (*sql.DB, error) {
	switch cfg.Driver {
	case "", "mysql":
		return openMySQL(cfg)
	case "sqlite3":
		dsn := cfg.URL
		if dsn == "" {
			dsn = cfg.Database
		}
		return sql.Open("sqlite3", dsn)
	}
	return nil, fmt.Errorf("unsupported driver %q", cfg.Driver)
}

func openMySQL(cfg dbrouter.EndpointConfig) (*sql.DB, error) {
	mc := mysql.NewConfig()
	if cfg.URL != "" {
		parsed, err := mysql.ParseDSN(cfg.URL)
		if err != nil {
			return nil, err
		}
		mc = parsed
	} else {
		mc.Net = "tcp"
		mc.Addr = cfg.Addr()
		mc.User = cfg.User
		mc.Passwd = cfg.Password
		mc.DBName = cfg.Database
		mc.ParseTime = true
	}
	if cfg.ConnectTimeout > 0 {
		mc.Timeout = cfg.ConnectTimeout
	}

	connector, err := mysql.NewConnector(mc)
	if err != nil {
		return nil, err
	}
	return sql.OpenDB(connector), nil
}
