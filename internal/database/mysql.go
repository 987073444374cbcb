package database

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"

	"github.com/go-sql-driver/mysql"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"
)

func openMySQL(cfg Config) (*gorm.DB, error) {
	dsn, err := buildMySQLDSN(cfg)
	if err != nil {
		return nil, err
	}
	return gorm.Open(gormmysql.Open(dsn), gormConfig())
}

// buildMySQLDSN renders the connection string with the driver's own Config so
// that escaping matches what the driver parses. Timestamps are read as UTC.
func buildMySQLDSN(cfg Config) (string, error) {
	if cfg.DSN != "" {
		return cfg.DSN, nil
	}
	if cfg.User == "" || cfg.Name == "" {
		return "", errors.New("mysql configuration requires user and database name")
	}

	host := cfg.Host
	if host == "" {
		host = "127.0.0.1"
	}
	port := cfg.Port
	if port == 0 {
		port = 3306
	}

	base := mysql.NewConfig()
	base.User = cfg.User
	base.Passwd = cfg.Password
	base.Net = "tcp"
	base.Addr = net.JoinHostPort(host, strconv.Itoa(port))
	base.DBName = cfg.Name
	base.ParseTime = true
	base.Params = map[string]string{"charset": "utf8mb4"}

	if len(cfg.Options) == 0 {
		return base.FormatDSN(), nil
	}

	// Extra options go through ParseDSN so typed keys such as tls or timeout
	// are validated instead of being forwarded as session variables.
	extra := url.Values{}
	for key, value := range cfg.Options {
		extra.Set(key, value)
	}
	parsed, err := mysql.ParseDSN(base.FormatDSN() + "&" + extra.Encode())
	if err != nil {
		return "", fmt.Errorf("mysql options: %w", err)
	}
	return parsed.FormatDSN(), nil
}
