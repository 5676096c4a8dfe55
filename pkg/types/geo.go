package types

import (
	"math"
	"strconv"
)

const earthRadiusKm = 6371.0

// DistanceKm returns the great-circle distance between p and o.
func (p GeoPoint) DistanceKm(o GeoPoint) float64 {
	lat1, lat2 := radians(p.Lat), radians(o.Lat)
	dLat := lat2 - lat1
	dLng := radians(o.Lng - p.Lng)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(a))
}

// String formats the point as "lat,lng", the form the places API expects.
func (p GeoPoint) String() string {
	return strconv.FormatFloat(p.Lat, 'f', -1, 64) + "," + strconv.FormatFloat(p.Lng, 'f', -1, 64)
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }
