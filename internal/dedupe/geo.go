// Eventfold - Event Catalog Aggregation and Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/eventfold

package dedupe

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// UnknownGeoBucket is the bucket of an event without coordinates. It is
// compatible with every other bucket.
const UnknownGeoBucket = "unknown"

// geoBucketScale rounds coordinates to three decimals, about 110 m of latitude.
const geoBucketScale = 1000.0

// HaversineKm calculates the great-circle distance between two points
// on Earth using the Haversine formula. Returns distance in kilometers.
func HaversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadiusKm = 6371.0

	lat1Rad := lat1 * math.Pi / 180.0
	lon1Rad := lon1 * math.Pi / 180.0
	lat2Rad := lat2 * math.Pi / 180.0
	lon2Rad := lon2 * math.Pi / 180.0

	dLat := lat2Rad - lat1Rad
	dLon := lon2Rad - lon1Rad

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(dLon/2)*math.Sin(dLon/2)

	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusKm * c
}

// GeoBucket rounds a coordinate to the bucket grid and renders it as
// "lat:lon" in thousandths of a degree, e.g. "45509:-73567". Working in
// integers keeps the rendering stable (no "-0.000" variants).
func GeoBucket(lat, lon float64) string {
	return fmt.Sprintf("%d:%d", int64(math.Round(lat*geoBucketScale)), int64(math.Round(lon*geoBucketScale)))
}

// bucketCenter parses a bucket produced by GeoBucket.
func bucketCenter(bucket string) (lat, lon float64, ok bool) {
	latStr, lonStr, found := strings.Cut(bucket, ":")
	if !found {
		return 0, 0, false
	}
	latI, err := strconv.ParseInt(latStr, 10, 64)
	if err != nil {
		return 0, 0, false
	}
	lonI, err := strconv.ParseInt(lonStr, 10, 64)
	if err != nil {
		return 0, 0, false
	}
	return float64(latI) / geoBucketScale, float64(lonI) / geoBucketScale, true
}
