// Package geo maps IP addresses to ISO 3166 country codes using a local
// MaxMind DB file, such as GeoLite2-Country.mmdb.
package geo

import (
	"errors"
	"fmt"
	"net"

	"github.com/oschwald/geoip2-golang"
	"github.com/oschwald/maxminddb-golang"
)

// Lookup resolves the country of an IP address. Implementations must be safe
// for concurrent use.
type Lookup interface {
	Country(ip string) (string, bool)
}

// Nop is a Lookup that never finds a country.
type Nop struct{}

func (Nop) Country(string) (string, bool) { return "", false }

// DB is a Lookup backed by a MaxMind DB file.
//
// GeoIP2 and GeoLite2 databases are read through geoip2. Other databases
// (DB-IP, IPinfo and similar) are read directly, as long as their records
// carry a country.iso_code field.
type DB struct {
	geo *geoip2.Reader
	raw *maxminddb.Reader
}

// record is the subset of a generic country record read from raw databases.
type record struct {
	Country struct {
		IsoCode string `maxminddb:"iso_code"`
	} `maxminddb:"country"`
}

// Open opens the database at path.
func Open(path string) (*DB, error) {
	geo, err := geoip2.Open(path)
	if err == nil {
		return &DB{geo: geo}, nil
	}

	var unknown geoip2.UnknownDatabaseTypeError
	if !errors.As(err, &unknown) {
		return nil, fmt.Errorf("geo: error opening %q: %w", path, err)
	}
	if geo != nil {
		geo.Close()
	}

	raw, err := maxminddb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("geo: error opening %q: %w", path, err)
	}

	return &DB{raw: raw}, nil
}

// Country returns the ISO code of the country ip is located in.
func (db *DB) Country(ip string) (string, bool) {
	addr := net.ParseIP(ip)
	if addr == nil {
		return "", false
	}

	var code string
	if db.geo != nil {
		country, err := db.geo.Country(addr)
		if err != nil {
			return "", false
		}
		code = country.Country.IsoCode
	} else {
		var rec record
		if err := db.raw.Lookup(addr, &rec); err != nil {
			return "", false
		}
		code = rec.Country.IsoCode
	}

	return code, code != ""
}

// DatabaseType returns the type name stored in the database metadata.
func (db *DB) DatabaseType() string {
	if db.geo != nil {
		return db.geo.Metadata().DatabaseType
	}
	return db.raw.Metadata.DatabaseType
}

// Close releases the database.
func (db *DB) Close() error {
	if db.geo != nil {
		return db.geo.Close()
	}
	return db.raw.Close()
}
