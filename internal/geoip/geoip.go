// Package geoip derives a coarse location profile from the device's public IP
// using a MaxMind GeoIP2 City database or a JSON fallback table.
package geoip

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"

	"github.com/oschwald/geoip2-golang"

	"github.com/Tempo-Platform/tempo-ironsource-sub000/internal/location"
	"github.com/Tempo-Platform/tempo-ironsource-sub000/internal/models"
)

// ErrNotFound is returned when an address has no entry in the database.
var ErrNotFound = errors.New("address not found in geoip database")

// GeoIP provides region lookup using a MaxMind DB or a JSON fallback.
type GeoIP struct {
	db       *geoip2.Reader
	fallback []record
}

type record struct {
	net       *net.IPNet
	lat, lon  float64
	placemark models.Placemark
}

// Init opens the GeoIP2 database located at path. When the file is not a
// MaxMind database it is parsed as a JSON list of network entries.
func Init(path string) (*GeoIP, error) {
	g := &GeoIP{}
	db, err := geoip2.Open(path)
	if err == nil {
		g.db = db
		return g, nil
	}

	data, jerr := os.ReadFile(path)
	if jerr != nil {
		return nil, err
	}
	var entries []struct {
		Net       string  `json:"net"`
		Country   string  `json:"country"`
		Region    string  `json:"region"`
		SubRegion string  `json:"sub_region"`
		City      string  `json:"city"`
		District  string  `json:"district"`
		Postcode  string  `json:"postcode"`
		Latitude  float64 `json:"lat"`
		Longitude float64 `json:"lon"`
	}
	if jerr = json.Unmarshal(data, &entries); jerr != nil {
		return nil, err
	}
	for _, e := range entries {
		if _, n, perr := net.ParseCIDR(e.Net); perr == nil {
			g.fallback = append(g.fallback, record{
				net: n,
				lat: e.Latitude,
				lon: e.Longitude,
				placemark: models.Placemark{
					AdminArea:    e.Region,
					Postcode:     e.Postcode,
					CountryCode:  e.Country,
					SubAdminArea: e.SubRegion,
					Locality:     e.City,
					SubLocality:  e.District,
				},
			})
		}
	}
	return g, nil
}

// Lookup returns the coordinates and placemark recorded for ip.
func (g *GeoIP) Lookup(ip net.IP) (location.Fix, models.Placemark, error) {
	if g == nil || ip == nil {
		return location.Fix{}, models.Placemark{}, ErrNotFound
	}
	if g.db != nil {
		rec, err := g.db.City(ip)
		if err == nil && rec.Country.IsoCode != "" {
			return location.Fix{
				Latitude:  rec.Location.Latitude,
				Longitude: rec.Location.Longitude,
				IP:        ip,
			}, placemarkFromCity(rec), nil
		}
	}
	for _, r := range g.fallback {
		if r.net.Contains(ip) {
			return location.Fix{Latitude: r.lat, Longitude: r.lon, IP: ip}, r.placemark, nil
		}
	}
	return location.Fix{}, models.Placemark{}, ErrNotFound
}

func placemarkFromCity(rec *geoip2.City) models.Placemark {
	p := models.Placemark{
		CountryCode: rec.Country.IsoCode,
		Postcode:    rec.Postal.Code,
		Locality:    rec.City.Names["en"],
	}
	if len(rec.Subdivisions) > 0 {
		p.AdminArea = rec.Subdivisions[0].IsoCode
	}
	if len(rec.Subdivisions) > 1 {
		p.SubAdminArea = rec.Subdivisions[1].Names["en"]
	}
	return p
}

// Close releases resources associated with the database.
func (g *GeoIP) Close() error {
	if g != nil && g.db != nil {
		return g.db.Close()
	}
	return nil
}

// IPFunc returns the device's current public address.
type IPFunc func(ctx context.Context) (net.IP, error)

// StaticIP returns an IPFunc that always reports ip.
func StaticIP(ip net.IP) IPFunc {
	return func(context.Context) (net.IP, error) {
		if ip == nil {
			return nil, errors.New("no public address configured")
		}
		return ip, nil
	}
}

// Locator implements location.Locator and location.Geocoder on top of GeoIP.
type Locator struct {
	geo *GeoIP
	ip  IPFunc
}

var (
	_ location.Locator  = (*Locator)(nil)
	_ location.Geocoder = (*Locator)(nil)
)

// NewLocator returns a Locator resolving the address reported by ip.
func NewLocator(geo *GeoIP, ip IPFunc) *Locator {
	return &Locator{geo: geo, ip: ip}
}

// Fix resolves the device address to coarse coordinates.
func (l *Locator) Fix(ctx context.Context) (location.Fix, error) {
	ip, err := l.ip(ctx)
	if err != nil {
		return location.Fix{}, fmt.Errorf("public address: %w", err)
	}
	fix, _, err := l.geo.Lookup(ip)
	if err != nil {
		return location.Fix{}, fmt.Errorf("locate %s: %w", ip, err)
	}
	return fix, nil
}

// ReverseGeocode returns the placemark of the database entry the fix came from.
func (l *Locator) ReverseGeocode(_ context.Context, fix location.Fix) (models.Placemark, error) {
	_, p, err := l.geo.Lookup(fix.IP)
	if err != nil {
		return models.Placemark{}, fmt.Errorf("geocode %s: %w", fix.IP, err)
	}
	return p, nil
}
