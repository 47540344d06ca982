package hub

import (
	"fmt"
	"math"
)

// TileID returns the Web Mercator (slippy map) tile "z/x/y" containing the
// coordinate at zoom.
func TileID(lat, lon float64, zoom int) string {
	n := math.Pow(2, float64(zoom))
	x := int(math.Floor((lon + 180.0) / 360.0 * n))
	latRad := lat * math.Pi / 180.0
	y := int(math.Floor((1.0 - math.Log(math.Tan(latRad)+1.0/math.Cos(latRad))/math.Pi) / 2.0 * n))

	maxTile := int(n) - 1
	x = min(max(x, 0), maxTile)
	y = min(max(y, 0), maxTile)

	return fmt.Sprintf("%d/%d/%d", zoom, x, y)
}
