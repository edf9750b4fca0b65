package raster

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/im7mortal/UTM"

	"forestagree/internal/types"
)

// GeographicCRS is the reference CRS every dataset is aligned to.
const GeographicCRS = "EPSG:4326"

const (
	utmNorthPrefix = 326
	utmSouthPrefix = 327

	// utmFalseNorthingSouth is added to southern-hemisphere northings.
	utmFalseNorthingSouth = 10000000.0

	// utmZoneReachDeg is how far from its central meridian a zone is
	// projected. 3.5 degrees keeps eastings inside [100 km, 1000 km) at the
	// equator and leaves half a degree of overlap with each neighbor.
	utmZoneReachDeg = 3.5

	newtonMaxIterations = 12
	newtonToleranceDeg  = 1e-11
	newtonStepM         = 1.0
)

// CRSInfo is the parsed form of the CRS codes this package understands.
type CRSInfo struct {
	Geographic bool
	Zone       int
	North      bool
}

// ParseCRS understands EPSG:4326 and the WGS84 UTM codes EPSG:326zz/327zz.
func ParseCRS(crs string) (CRSInfo, error) {
	if crs == GeographicCRS {
		return CRSInfo{Geographic: true}, nil
	}
	code, ok := strings.CutPrefix(strings.ToUpper(crs), "EPSG:")
	if !ok || len(code) != 5 {
		return CRSInfo{}, unsupportedCRS(crs)
	}
	n, err := strconv.Atoi(code)
	if err != nil {
		return CRSInfo{}, unsupportedCRS(crs)
	}
	prefix, zone := n/100, n%100
	if zone < 1 || zone > 60 {
		return CRSInfo{}, unsupportedCRS(crs)
	}
	switch prefix {
	case utmNorthPrefix:
		return CRSInfo{Zone: zone, North: true}, nil
	case utmSouthPrefix:
		return CRSInfo{Zone: zone, North: false}, nil
	}
	return CRSInfo{}, unsupportedCRS(crs)
}

// UTMCRS formats the EPSG code of a WGS84 UTM zone, e.g. "EPSG:32632".
func UTMCRS(zone int, north bool) string {
	prefix := utmSouthPrefix
	if north {
		prefix = utmNorthPrefix
	}
	return fmt.Sprintf("EPSG:%d%02d", prefix, zone)
}

// CentralMeridian returns the central meridian of a UTM zone in degrees.
func CentralMeridian(zone int) float64 {
	return float64(6*zone - 183)
}

// UTMToLonLat converts UTM coordinates in the given zone to lon/lat degrees.
// Northings that run past the equator, negative in a northern zone or above
// the false northing in a southern one, are inverted through the other
// hemisphere's false northing; both describe the same transverse Mercator
// plane.
func UTMToLonLat(easting, northing float64, zone int, north bool) (lon, lat float64, err error) {
	switch {
	case north && northing < 0:
		northing, north = northing+utmFalseNorthingSouth, false
	case !north && northing > utmFalseNorthingSouth:
		northing, north = northing-utmFalseNorthingSouth, true
	}
	lat, lon, err = UTM.ToLatLon(easting, northing, zone, "", north)
	if err != nil {
		return 0, 0, fmt.Errorf("utm zone %d: %w", zone, err)
	}
	return lon, lat, nil
}

// LonLatToUTM projects lon/lat into a fixed UTM zone, which may differ from
// the point's natural zone. It inverts UTMToLonLat with Newton iterations
// started from an equirectangular estimate.
func LonLatToUTM(lon, lat float64, zone int, north bool) (easting, northing float64, err error) {
	cm := CentralMeridian(zone)
	easting = 500000 + (lon-cm)*MetersPerDegree*math.Cos(lat*math.Pi/180)
	northing = lat * MetersPerDegree
	if !north {
		northing += utmFalseNorthingSouth
	}

	for i := 0; i < newtonMaxIterations; i++ {
		lon0, lat0, err := UTMToLonLat(easting, northing, zone, north)
		if err != nil {
			return 0, 0, err
		}
		rLon, rLat := lon-lon0, lat-lat0
		if math.Abs(rLon) < newtonToleranceDeg && math.Abs(rLat) < newtonToleranceDeg {
			return easting, northing, nil
		}

		lonE, latE, err := UTMToLonLat(easting+newtonStepM, northing, zone, north)
		if err != nil {
			return 0, 0, err
		}
		lonN, latN, err := UTMToLonLat(easting, northing+newtonStepM, zone, north)
		if err != nil {
			return 0, 0, err
		}

		// Jacobian d(lon,lat)/d(E,N).
		a, b := (lonE-lon0)/newtonStepM, (lonN-lon0)/newtonStepM
		c, d := (latE-lat0)/newtonStepM, (latN-lat0)/newtonStepM
		det := a*d - b*c
		if det == 0 {
			return 0, 0, fmt.Errorf("utm zone %d: singular projection at (%g, %g)", zone, lon, lat)
		}
		easting += (d*rLon - b*rLat) / det
		northing += (a*rLat - c*rLon) / det
	}

	return easting, northing, nil
}

func unsupportedCRS(crs string) error {
	return types.NewAppError(types.ErrCodeConfigUnsupportedProjCRS,
		fmt.Sprintf("unsupported CRS %q (expected EPSG:4326 or a WGS84 UTM zone)", crs), nil)
}
