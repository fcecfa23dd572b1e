package store

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// DSN is a parsed data-source name for one of the three SQL backends.
// Grounded on the teacher's pkg/pdo.ParseDSN/DSN, trimmed to the fields a
// plain database/sql driver needs (no PDO ParamType/FetchMode baggage).
type DSN struct {
	Driver   string // "mysql", "pgsql", or "sqlite"
	Host     string
	Port     int
	Database string
	Username string
	Password string
	Options  map[string]string
}

// ParseDSN parses "mysql:host=localhost;port=3306;dbname=teal",
// "pgsql:host=localhost;dbname=teal", or "sqlite:/path/to/teal.db".
func ParseDSN(dsn string) (*DSN, error) {
	parts := strings.SplitN(dsn, ":", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("store: invalid DSN %q", dsn)
	}

	d := &DSN{Driver: parts[0], Options: map[string]string{}}

	if d.Driver == "sqlite" {
		d.Database = parts[1]
		return d, nil
	}

	for _, pair := range strings.Split(parts[1], ";") {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			continue
		}
		key, value := strings.TrimSpace(kv[0]), strings.TrimSpace(kv[1])
		switch key {
		case "host", "hostname":
			d.Host = value
		case "port":
			port, err := strconv.Atoi(value)
			if err != nil {
				return nil, fmt.Errorf("store: invalid port %q: %w", value, err)
			}
			d.Port = port
		case "dbname", "database":
			d.Database = value
		case "user", "username":
			d.Username = value
		case "password", "pass":
			d.Password = value
		default:
			d.Options[key] = value
		}
	}

	if d.Port == 0 {
		switch d.Driver {
		case "mysql":
			d.Port = 3306
		case "pgsql":
			d.Port = 5432
		}
	}
	return d, nil
}

// SQLDriverName maps a parsed DSN's scheme to the database/sql driver name
// registered by the matching import (go-sql-driver/mysql registers "mysql",
// lib/pq registers "postgres", modernc.org/sqlite registers "sqlite").
func (d *DSN) SQLDriverName() (string, error) {
	switch d.Driver {
	case "mysql":
		return "mysql", nil
	case "pgsql":
		return "postgres", nil
	case "sqlite":
		return "sqlite", nil
	default:
		return "", fmt.Errorf("store: unknown driver %q", d.Driver)
	}
}

// DataSourceName builds the connection string database/sql.Open expects for
// the resolved driver.
func (d *DSN) DataSourceName() string {
	switch d.Driver {
	case "mysql":
		return d.mysqlDSN()
	case "pgsql":
		return d.postgresDSN()
	default:
		return d.sqliteDSN()
	}
}

func (d *DSN) mysqlDSN() string {
	var b strings.Builder
	if d.Username != "" {
		b.WriteString(d.Username)
		if d.Password != "" {
			b.WriteString(":")
			b.WriteString(d.Password)
		}
		b.WriteString("@")
	}
	host := d.Host
	if host == "" {
		host = "localhost"
	}
	fmt.Fprintf(&b, "tcp(%s:%d)/%s", host, d.Port, d.Database)
	if len(d.Options) > 0 {
		b.WriteString("?")
		first := true
		for k, v := range d.Options {
			if !first {
				b.WriteString("&")
			}
			first = false
			b.WriteString(url.QueryEscape(k))
			b.WriteString("=")
			b.WriteString(url.QueryEscape(v))
		}
	}
	return b.String()
}

func (d *DSN) postgresDSN() string {
	host := d.Host
	if host == "" {
		host = "localhost"
	}
	params := []string{fmt.Sprintf("host=%s", host), fmt.Sprintf("port=%d", d.Port)}
	if d.Username != "" {
		params = append(params, fmt.Sprintf("user=%s", d.Username))
	}
	if d.Password != "" {
		params = append(params, fmt.Sprintf("password=%s", d.Password))
	}
	if d.Database != "" {
		params = append(params, fmt.Sprintf("dbname=%s", d.Database))
	}
	for k, v := range d.Options {
		params = append(params, fmt.Sprintf("%s=%s", k, v))
	}
	if _, ok := d.Options["sslmode"]; !ok {
		params = append(params, "sslmode=disable")
	}
	return strings.Join(params, " ")
}

func (d *DSN) sqliteDSN() string {
	if d.Database == "" || d.Database == ":memory:" {
		return "file::memory:?mode=memory&cache=shared"
	}
	return d.Database
}
