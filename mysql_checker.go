package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	_ "github.com/go-sql-driver/mysql"
)

var requiredPrivileges = []string{
	"REPLICATION SLAVE",
	"REPLICATION CLIENT",
	"SELECT",
}

// MySQLChecker validates MySQL connection and required permissions
type MySQLChecker struct {
	host     string
	port     int
	user     string
	password string
	logger   *logrus.Logger
}

// NewMySQLChecker creates a new MySQL checker
func NewMySQLChecker(host string, port int, user, password string, logger *logrus.Logger) *MySQLChecker {
	return &MySQLChecker{
		host:     host,
		port:     port,
		user:     user,
		password: password,
		logger:   logger,
	}
}

type serverVariable struct {
	Name  string `db:"Variable_name"`
	Value string `db:"Value"`
}

// CheckConnectionAndPermissions verifies the connection, the replication
// grants and that the server writes full row images to its binary log
func (c *MySQLChecker) CheckConnectionAndPermissions(ctx context.Context) error {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/", c.user, c.password, c.host, c.port)
	db, err := sqlx.ConnectContext(ctx, "mysql", dsn)
	if err != nil {
		return fmt.Errorf("failed to connect to MySQL server: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	c.logger.Info("Successfully connected to MySQL server")

	var grants []string
	if err := db.SelectContext(ctx, &grants, "SHOW GRANTS FOR CURRENT_USER()"); err != nil {
		// older servers only know the bare form
		if err := db.SelectContext(ctx, &grants, "SHOW GRANTS"); err != nil {
			return fmt.Errorf("failed to check grants: %w", err)
		}
	}
	if missing := missingPrivileges(grants); len(missing) > 0 {
		return fmt.Errorf("missing required permissions: %s. Current grants: %s", strings.Join(missing, ", "), strings.Join(grants, "; "))
	}
	c.logger.Info("All required permissions verified")

	variables := make(map[string]string)
	var rows []serverVariable
	query := "SHOW GLOBAL VARIABLES WHERE Variable_name IN ('log_bin', 'binlog_format', 'binlog_row_image', 'binlog_checksum')"
	if err := db.SelectContext(ctx, &rows, query); err != nil {
		return fmt.Errorf("failed to read server variables: %w", err)
	}
	for _, v := range rows {
		variables[strings.ToLower(v.Name)] = v.Value
	}
	return c.checkVariables(variables)
}

func (c *MySQLChecker) checkVariables(variables map[string]string) error {
	if logBin := variables["log_bin"]; logBin != "ON" && logBin != "1" {
		return fmt.Errorf("binary logging (log_bin) is not enabled. Current value: %q. Enable it in MySQL configuration", logBin)
	}
	c.logger.Info("Binary logging is enabled")

	if format := variables["binlog_format"]; !strings.EqualFold(format, "ROW") {
		return fmt.Errorf("binlog_format is set to '%s', ROW is required to decode row changes", format)
	}
	c.logger.Info("binlog_format is set to ROW")

	// older servers have no binlog_row_image and always log full rows
	if image, ok := variables["binlog_row_image"]; ok && !strings.EqualFold(image, "FULL") {
		return fmt.Errorf("binlog_row_image is set to '%s', FULL is required to map columns by position", image)
	}

	if checksum, ok := variables["binlog_checksum"]; ok {
		c.logger.Infof("binlog_checksum is %s", checksum)
	}
	return nil
}

// missingPrivileges returns the required privileges none of the grants carry
func missingPrivileges(grants []string) []string {
	all := strings.ToUpper(strings.Join(grants, "; "))
	if strings.Contains(all, "ALL PRIVILEGES ON *.*") {
		return nil
	}
	var missing []string
	for _, priv := range requiredPrivileges {
		if !strings.Contains(all, priv) {
			missing = append(missing, priv)
		}
	}
	return missing
}
